// Package hashpw implements the hashpw command: derive a stored credential
// hash from a password, or check a password against one.
package hashpw

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/agriflow/internal/common"
	"github.com/dmitrijs2005/agriflow/internal/credential"
	"github.com/dmitrijs2005/agriflow/internal/prompt"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitMismatch = 1
	ExitError    = 2
)

// Run executes the command and returns its exit code.
func Run(args []string, in *os.File, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("hashpw", flag.ContinueOnError)
	fs.SetOutput(errOut)

	stored := fs.String("verify", "", "check the password against this stored hash instead of deriving one")
	cost := fs.Int("cost", credential.DefaultCost, "scrypt N (non-default values produce incompatible hashes)")
	block := fs.Int("block", credential.DefaultBlockSize, "scrypt r")
	parallel := fs.Int("parallel", credential.DefaultParallelism, "scrypt p")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitError
	}

	hasher := credential.New(
		credential.WithCost(*cost),
		credential.WithBlockSize(*block),
		credential.WithParallelism(*parallel),
	)

	if *stored != "" {
		return verify(hasher, *stored, in, out, errOut)
	}
	return derive(hasher, in, out, errOut)
}

func derive(h *credential.Hasher, in *os.File, out, errOut io.Writer) int {
	pw, err := prompt.ConfirmedPassword(in, errOut)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return ExitError
	}
	defer common.WipeByteArray(pw)

	s, err := h.Derive(string(pw))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return ExitError
	}

	fmt.Fprintln(out, s)
	return ExitOK
}

func verify(h *credential.Hasher, stored string, in *os.File, out, errOut io.Writer) int {
	pw, err := prompt.Password(in, errOut, "Password")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return ExitError
	}
	defer common.WipeByteArray(pw)

	ok, err := h.Check(string(pw), stored)
	if err != nil {
		fmt.Fprintln(errOut, "warning:", err)
	}
	if !ok {
		fmt.Fprintln(out, "no match")
		return ExitMismatch
	}

	fmt.Fprintln(out, "match")
	return ExitOK
}
