package services

import "errors"

// PromptError attaches the catalog key that explains a failure to the user.
type PromptError struct {
	Key  string
	Args map[string]string
	Err  error
}

func (e *PromptError) Error() string {
	if e.Err == nil {
		return e.Key
	}
	return e.Err.Error()
}

func (e *PromptError) Unwrap() error { return e.Err }

// WithPrompt tags err with a user-facing catalog key.
func WithPrompt(err error, key string, args map[string]string) error {
	if err == nil {
		return nil
	}
	return &PromptError{Key: key, Args: args, Err: err}
}

// PromptOf returns the catalog key attached to err, if any.
func PromptOf(err error) (string, map[string]string, bool) {
	var pe *PromptError
	if errors.As(err, &pe) && pe.Key != "" {
		return pe.Key, pe.Args, true
	}
	return "", nil, false
}
