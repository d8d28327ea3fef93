// Package prompt reads secrets from a terminal without echo.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/agriflow/internal/common"
	"golang.org/x/term"
)

// test seams for the terminal
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

var ErrEmptyInput = errors.New("empty input")

// Password prints label to w and reads one secret from in. When in is a
// terminal the input is not echoed; otherwise one line is read, which lets
// scripts pipe the password. The caller should wipe the result.
func Password(in *os.File, w io.Writer, label string) ([]byte, error) {
	if _, err := fmt.Fprint(w, label+": "); err != nil {
		return nil, err
	}

	fd := int(in.Fd())
	if isTerminal(fd) {
		pw, err := readPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return nil, err
		}
		return pw, nil
	}

	return readLine(bufio.NewReader(in))
}

// ConfirmedPassword asks twice and fails when the answers differ.
func ConfirmedPassword(in *os.File, w io.Writer) ([]byte, error) {
	if !isTerminal(int(in.Fd())) {
		return Password(in, w, "Password")
	}

	first, err := Password(in, w, "Password")
	if err != nil {
		return nil, err
	}
	second, err := Password(in, w, "Repeat password")
	if err != nil {
		common.WipeByteArray(first)
		return nil, err
	}
	defer common.WipeByteArray(second)

	if string(first) != string(second) {
		common.WipeByteArray(first)
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
