package page

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"devtoolkit/internal/docstore"
)

var validate = validator.New()

type ContactInput struct {
	Name    string `validate:"required,max=100"`
	Email   string `validate:"required,email"`
	Message string `validate:"required,max=2000"`
}

type SuggestionInput struct {
	Title    string `validate:"required,max=120"`
	URL      string `validate:"required,url"`
	Category string `validate:"required"`
	Level    string `validate:"required"`
	Message  string `validate:"required,max=2000"`
}

// Receipt describes a submitted form. Saved is false for signed-out users
// and when the copy could not be stored.
type Receipt struct {
	ID    string
	Saved bool
}

var errIncompleteForm = &UserError{Code: "invalid-input", Message: "Please complete all required fields."}

// Forms submits the contact and suggestion forms. A signed-in user's
// submissions are also kept under users/{uid}/contacts and
// users/{uid}/suggestions.
type Forms struct {
	env         Env
	contacts    *docstore.Mutator
	suggestions *docstore.Mutator
}

func NewForms(env Env) *Forms {
	env = env.withDefaults()
	return &Forms{
		env:         env,
		contacts:    docstore.NewMutator(env.Remote, "contacts"),
		suggestions: docstore.NewMutator(env.Remote, "suggestions"),
	}
}

func (f *Forms) SubmitContact(ctx context.Context, in ContactInput) (Receipt, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Message = strings.TrimSpace(in.Message)
	if err := validate.Struct(in); err != nil {
		return Receipt{}, errIncompleteForm
	}

	return f.save(ctx, f.contacts, docstore.Fields{
		"name":    in.Name,
		"email":   in.Email,
		"message": in.Message,
	}), nil
}

func (f *Forms) SubmitSuggestion(ctx context.Context, in SuggestionInput) (Receipt, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.URL = strings.TrimSpace(in.URL)
	in.Message = strings.TrimSpace(in.Message)
	if err := validate.Struct(in); err != nil {
		return Receipt{}, errIncompleteForm
	}

	return f.save(ctx, f.suggestions, docstore.Fields{
		"title":    in.Title,
		"url":      in.URL,
		"category": in.Category,
		"level":    in.Level,
		"message":  in.Message,
	}), nil
}

// save stores a copy for a signed-in user. Failures are logged only; the
// submission itself already went through.
func (f *Forms) save(ctx context.Context, m *docstore.Mutator, fields docstore.Fields) Receipt {
	r := Receipt{ID: uuid.New().String()}
	uid, err := f.env.currentUser()
	if err != nil {
		return r
	}
	fields["uid"] = uid
	if err := m.Add(ctx, uid, r.ID, fields); err != nil {
		f.env.Logger.Warn("saving form copy failed", zap.String("user_id", uid), zap.Error(err))
		return r
	}
	r.Saved = true
	return r
}
