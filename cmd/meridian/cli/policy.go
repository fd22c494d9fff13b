package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/policy"
)

// PolicyOpsCLI offers offline helpers for approval configuration documents.
type PolicyOpsCLI struct{}

// NewPolicyOpsCLI constructs a new helper instance.
func NewPolicyOpsCLI() *PolicyOpsCLI {
	return &PolicyOpsCLI{}
}

// PolicyValidateOptions defines available flags for the config validate command.
type PolicyValidateOptions struct {
	Path       string
	JSONOutput bool
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// PolicyValidateSummary describes the JSON response for config validate.
type PolicyValidateSummary struct {
	OK        bool   `json:"ok"`
	CompanyID int64  `json:"company_id"`
	Problem   string `json:"problem,omitempty"`
}

// ValidateCommand parses a configuration document and runs the save-time
// validation against it without touching the database.
func (c *PolicyOpsCLI) ValidateCommand(opts PolicyValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	cfg, err := c.readConfig(opts)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "config validate: %v\n", err)
		return 1
	}

	validationErr := cfg.Validate()
	if opts.JSONOutput {
		summary := PolicyValidateSummary{OK: validationErr == nil, CompanyID: cfg.CompanyID}
		if validationErr != nil {
			summary.Problem = validationErr.Error()
		}
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "config validate: encode json: %v\n", err)
			return 1
		}
	} else if validationErr == nil {
		_, _ = fmt.Fprintf(opts.Stdout, "Configuration for company %d is valid.\n", cfg.CompanyID)
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "Configuration for company %d is invalid: %v\n", cfg.CompanyID, validationErr)
	}
	if validationErr != nil {
		return 10
	}
	return 0
}

// PolicyTierOptions defines available flags for the tier preview command.
type PolicyTierOptions struct {
	Path     string
	Kind     string
	Amount   string
	Priority string
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
}

// TierCommand previews the approval routing a payment would receive under the
// supplied configuration document.
func (c *PolicyOpsCLI) TierCommand(opts PolicyTierOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(opts.Amount))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "config tier: invalid amount %q\n", opts.Amount)
		return 1
	}

	cfg, err := c.readConfig(PolicyValidateOptions{Path: opts.Path, Stdin: opts.Stdin, Stderr: opts.Stderr})
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "config tier: %v\n", err)
		return 1
	}

	tier, err := cfg.RequiredTier(opts.Kind, amount, opts.Priority)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "config tier: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Tier %d", tier.Level)
	if tier.Heightened {
		_, _ = fmt.Fprint(opts.Stdout, " (heightened)")
	}
	_, _ = fmt.Fprintln(opts.Stdout)
	return 0
}

func (c *PolicyOpsCLI) readConfig(opts PolicyValidateOptions) (policy.Config, error) {
	var reader io.Reader
	switch {
	case opts.Path != "" && opts.Path != "-":
		f, err := os.Open(opts.Path)
		if err != nil {
			return policy.Config{}, err
		}
		defer f.Close()
		reader = f
	case opts.Stdin != nil:
		reader = opts.Stdin
	default:
		return policy.Config{}, errors.New("no configuration document supplied")
	}

	var dto policy.ConfigDTO
	if err := json.NewDecoder(reader).Decode(&dto); err != nil {
		return policy.Config{}, fmt.Errorf("decode document: %w", err)
	}
	return dto.ToConfig()
}
