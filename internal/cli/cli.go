// Package cli routes positional arguments to a run or train invocation.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUsage means the arguments matched no invocation. Callers print Usage
// and exit successfully.
var ErrUsage = errors.New("usage")

const Usage = `Usage: nourishbot <image_path> <dietary_restrictions> <workflow_type: recipe|analysis>
Or for analysis only: nourishbot <image_path> analysis
Or for training: nourishbot train <n_iterations> <output_filename> <image_path> <dietary_restrictions> <workflow_type>`

type Invocation struct {
	Train        bool
	ImagePath    string
	Restrictions *string
	// Workflow is lowercased but not validated.
	Workflow   string
	Iterations int
	OutputFile string
}

// Parse routes args, which exclude the program name. Argument counts are
// checked before the train keyword.
func Parse(args []string) (*Invocation, error) {
	switch {
	case len(args) == 2:
		return &Invocation{
			ImagePath: args[0],
			Workflow:  strings.ToLower(args[1]),
		}, nil

	case len(args) == 3:
		restrictions := args[1]
		return &Invocation{
			ImagePath:    args[0],
			Restrictions: &restrictions,
			Workflow:     strings.ToLower(args[2]),
		}, nil

	case len(args) == 6 && args[0] == "train":
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid n_iterations %q: %w", args[1], err)
		}
		restrictions := args[4]
		return &Invocation{
			Train:        true,
			Iterations:   n,
			OutputFile:   args[2],
			ImagePath:    args[3],
			Restrictions: &restrictions,
			Workflow:     strings.ToLower(args[5]),
		}, nil

	default:
		return nil, ErrUsage
	}
}
