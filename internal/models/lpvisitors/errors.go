package lpvisitors

import "errors"

var (
	ErrValidation  = errors.New("requête invalide")
	ErrPersistence = errors.New("erreur de persistance")
)

// Error porte le message renvoyé au client et la cause technique
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Details est la cause exposée dans le champ "detalhes"
func (e *Error) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func validation(msg string, err error) error {
	return &Error{Kind: ErrValidation, Message: msg, Err: err}
}

func persistence(msg string, err error) error {
	return &Error{Kind: ErrPersistence, Message: msg, Err: err}
}
