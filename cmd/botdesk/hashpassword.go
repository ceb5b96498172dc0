package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/whatsapp-automation/botdesk/internal/realtime"
)

// hashPassword prints a bcrypt hash for users.json. The password is taken
// from args or, when absent, from the first line of in.
func hashPassword(args []string, in io.Reader, out io.Writer) error {
	var password string
	if len(args) > 0 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("usage: botdesk hash-password <password>")
	}

	hash, err := realtime.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
