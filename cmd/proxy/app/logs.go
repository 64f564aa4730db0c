package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"
)

// tailLines returns the last n lines of the file at path, reading the
// whole file since proxy logs are not expected to grow to a size where
// a seek-from-end scan would matter.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// followFile polls path for newly appended bytes and prints them,
// like `tail -f`, until interrupted. Polling rather than fsnotify
// keeps this dependency-free for what is a low-frequency CLI command.
func followFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fmt.Print(line)
		}
		if err != nil {
			time.Sleep(500 * time.Millisecond)
		}
	}
}
