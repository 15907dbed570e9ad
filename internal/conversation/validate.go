package conversation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	cerrors "github.com/combot/combot/internal/errors"
	"github.com/combot/combot/internal/models"
)

// Input limits
const (
	MaxMessageLength = 1000
	MaxTimeSpent     = 3600
	MaxIndex         = 20
)

// DefaultEmail is recorded when the client supplies none
const DefaultEmail = "temp@temp.com"

// Validate checks and normalizes a step request in place
func Validate(req *StepRequest) error {
	msg := strings.Join(strings.Fields(req.Message), " ")
	if msg == "" {
		return cerrors.NewValidation("message", "cannot be empty")
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageLength {
		return cerrors.NewValidation("message", fmt.Sprintf("is too long (max %d characters)", MaxMessageLength))
	}
	req.Message = msg

	if req.Index < 0 || req.Index > MaxIndex {
		return cerrors.NewValidation("index", fmt.Sprintf("must be between 0 and %d", MaxIndex))
	}
	if req.TimeSpent < 0 || req.TimeSpent > MaxTimeSpent {
		return cerrors.NewValidation("timer", fmt.Sprintf("must be between 0 and %d", MaxTimeSpent))
	}

	if req.Email != "" {
		addr, err := mail.ParseAddress(req.Email)
		if err != nil {
			return cerrors.NewValidation("email", "is not a valid address")
		}
		req.Email = addr.Address
	}

	if req.ClassType != "" && !validProblemType(req.ClassType) {
		return cerrors.NewValidation("classType", fmt.Sprintf("unknown problem type %q", req.ClassType))
	}
	return ValidateScenario(req.Scenario)
}

// ValidateScenario checks every scenario field against its allowed values
func ValidateScenario(s models.Scenario) error {
	if s.Brand != models.BrandBasic && s.Brand != models.BrandLulu {
		return cerrors.NewValidation("brand", fmt.Sprintf("unknown brand %q", s.Brand))
	}
	if !validProblemType(s.ProblemType) {
		return cerrors.NewValidation("problem_type", fmt.Sprintf("unknown problem type %q", s.ProblemType))
	}
	if !validLevel(s.ThinkLevel) {
		return cerrors.NewValidation("think_level", fmt.Sprintf("unknown level %q", s.ThinkLevel))
	}
	if !validLevel(s.FeelLevel) {
		return cerrors.NewValidation("feel_level", fmt.Sprintf("unknown level %q", s.FeelLevel))
	}
	return nil
}

func validProblemType(p string) bool {
	switch p {
	case models.ProblemTypeA, models.ProblemTypeB, models.ProblemTypeC, models.ProblemTypeOther:
		return true
	}
	return false
}

func validLevel(l string) bool {
	return l == models.LevelHigh || l == models.LevelLow
}
