package page

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"devtoolkit/internal/docstore"
	"devtoolkit/internal/syncstore"
)

var careerSkills = []string{
	"Build a responsive page with HTML and CSS.",
	"Use Git and GitHub for version control.",
	"Fetch and use data from APIs.",
	"Explain projects clearly and confidently.",
	"Deploy a small web application.",
	"Debug errors step by step.",
	"Write strong resume bullet points.",
	"Apply basic accessibility practices.",
	"Improve page performance.",
	"Practice interviews.",
}

// CareerSkills returns the readiness checklist in display order.
func CareerSkills() []string {
	return append([]string(nil), careerSkills...)
}

// skillsKind stores the checked indexes of careerSkills.
type skillsKind struct{}

func (skillsKind) Descriptor() syncstore.Descriptor {
	return syncstore.Descriptor{
		LocalKey:   "dt.careers.skills.v2",
		Collection: "learn",
		DocID:      "careersChecklist",
		ExportName: "skills_checklist.txt",
	}
}

func (skillsKind) Default() []int { return []int{} }

func (skillsKind) Normalize(v []int) []int {
	seen := make(map[int]bool, len(v))
	out := make([]int, 0, len(v))
	for _, i := range v {
		if i >= 0 && i < len(careerSkills) && !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

func (skillsKind) Progress(v []int) int { return len(v) }

func (skillsKind) Encode(v []int) docstore.Fields {
	return docstore.Fields{"checked": append([]int(nil), v...)}
}

func (skillsKind) Decode(f docstore.Fields) []int {
	switch list := f["checked"].(type) {
	case []int:
		return append([]int(nil), list...)
	case []any:
		out := make([]int, 0, len(list))
		for _, e := range list {
			if n, ok := e.(float64); ok && n == float64(int(n)) {
				out = append(out, int(n))
			}
		}
		return out
	default:
		return nil
	}
}

func (skillsKind) Render(v []int) string {
	checked := make(map[int]bool, len(v))
	for _, i := range v {
		checked[i] = true
	}
	lines := make([]string, len(careerSkills))
	for i, text := range careerSkills {
		mark := "[ ] "
		if checked[i] {
			mark = "[x] "
		}
		lines[i] = mark + text
	}
	return strings.Join(lines, "\n")
}

const StatusApplied = "Applied"

// ApplicationStatuses are the tracker's status choices.
var ApplicationStatuses = []string{StatusApplied, "Interviewing", "Offer", "Rejected"}

type Application struct {
	ID      string `json:"_id"`
	Role    string `json:"role"`
	Company string `json:"company"`
	Status  string `json:"status"`
	Notes   string `json:"notes"`
}

// ApplicationInput is what the add form submits.
type ApplicationInput struct {
	Role    string `validate:"required,max=120"`
	Company string `validate:"required,max=120"`
	Status  string `validate:"omitempty,oneof=Applied Interviewing Offer Rejected"`
	Notes   string `validate:"max=2000"`
}

type appsKind struct{}

func (appsKind) Descriptor() syncstore.Descriptor {
	return syncstore.Descriptor{
		LocalKey:   "dt.careers.apps.v1",
		Collection: "learn",
		DocID:      "careersApps",
		ExportName: "applications.txt",
	}
}

func (appsKind) Default() []Application { return []Application{} }

// Normalize drops rows without an id, role or company and keeps the first
// row for each id.
func (appsKind) Normalize(v []Application) []Application {
	seen := make(map[string]bool, len(v))
	out := make([]Application, 0, len(v))
	for _, a := range v {
		if a.ID == "" || a.Role == "" || a.Company == "" || seen[a.ID] {
			continue
		}
		if a.Status == "" {
			a.Status = StatusApplied
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}

func (appsKind) Progress(v []Application) int { return len(v) }

func (appsKind) Encode(v []Application) docstore.Fields {
	rows := make([]any, 0, len(v))
	for _, a := range v {
		rows = append(rows, map[string]any{
			"_id":     a.ID,
			"role":    a.Role,
			"company": a.Company,
			"status":  a.Status,
			"notes":   a.Notes,
		})
	}
	return docstore.Fields{"apps": rows}
}

func (appsKind) Decode(f docstore.Fields) []Application {
	rows, _ := f["apps"].([]any)
	out := make([]Application, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		row := docstore.Fields(m)
		out = append(out, Application{
			ID:      row.String("_id"),
			Role:    row.String("role"),
			Company: row.String("company"),
			Status:  row.String("status"),
			Notes:   row.String("notes"),
		})
	}
	return out
}

func (appsKind) Render(v []Application) string {
	lines := make([]string, 0, len(v))
	for _, a := range v {
		line := a.Role + " | " + a.Company + " | " + a.Status
		if a.Notes != "" {
			line += " | " + a.Notes
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

type SkillView struct {
	Index   int
	Text    string
	Checked bool
}

// JobLink is a prefilled job board search.
type JobLink struct {
	Name string
	URL  string
}

// Careers is the career readiness page: a skills checklist and an
// application tracker, both kept under users/{uid}/learn.
type Careers struct {
	env    Env
	skills *syncstore.Store[[]int]
	apps   *syncstore.Store[[]Application]
}

func NewCareers(env Env) *Careers {
	env = env.withDefaults()
	logger := env.Logger.Named("careers")
	c := &Careers{
		env: env,
		skills: syncstore.New[[]int](skillsKind{}, env.Local, env.Remote,
			syncstore.WithLogger(logger), syncstore.WithClock(env.Now)),
		apps: syncstore.New[[]Application](appsKind{}, env.Local, env.Remote,
			syncstore.WithLogger(logger), syncstore.WithClock(env.Now)),
	}
	c.skills.Bind(env.Watcher)
	c.apps.Bind(env.Watcher)
	return c
}

func (c *Careers) Skills() []SkillView {
	checked := map[int]bool{}
	for _, i := range c.skills.Value().Payload {
		checked[i] = true
	}
	out := make([]SkillView, len(careerSkills))
	for i, text := range careerSkills {
		out[i] = SkillView{Index: i, Text: text, Checked: checked[i]}
	}
	return out
}

func (c *Careers) ToggleSkill(ctx context.Context, index int) error {
	if index < 0 || index >= len(careerSkills) {
		return fmt.Errorf("skill %d out of range", index)
	}
	c.skills.Update(ctx, func(v []int) []int {
		for i, x := range v {
			if x == index {
				return append(v[:i], v[i+1:]...)
			}
		}
		return append(v, index)
	})
	return nil
}

func (c *Careers) ResetSkills(ctx context.Context) {
	c.skills.Reset(ctx)
}

func (c *Careers) SkillProgress() Progress {
	return newProgress(len(c.skills.Value().Payload), len(careerSkills))
}

func (c *Careers) ExportSkills() *syncstore.Download {
	return c.skills.Export()
}

func (c *Careers) Applications() []Application {
	return c.apps.Value().Payload
}

// AddApplication appends a tracked application. Role and company are
// required; the status defaults to Applied.
func (c *Careers) AddApplication(ctx context.Context, in ApplicationInput) (Application, error) {
	in.Role = strings.TrimSpace(in.Role)
	in.Company = strings.TrimSpace(in.Company)
	in.Notes = strings.TrimSpace(in.Notes)
	if err := validate.Struct(in); err != nil {
		return Application{}, &UserError{Code: "invalid-input", Message: "Please enter a role and company."}
	}
	if in.Status == "" {
		in.Status = StatusApplied
	}

	a := Application{
		ID:      uuid.New().String(),
		Role:    in.Role,
		Company: in.Company,
		Status:  in.Status,
		Notes:   in.Notes,
	}
	c.apps.Update(ctx, func(v []Application) []Application { return append(v, a) })
	return a, nil
}

// DeleteApplication reports whether a row with id existed.
func (c *Careers) DeleteApplication(ctx context.Context, id string) bool {
	found := false
	for _, a := range c.apps.Value().Payload {
		if a.ID == id {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	c.apps.Update(ctx, func(v []Application) []Application {
		out := v[:0]
		for _, a := range v {
			if a.ID != id {
				out = append(out, a)
			}
		}
		return out
	})
	return true
}

func (c *Careers) ExportApplications() *syncstore.Download {
	return c.apps.Export()
}

// JobSearch builds job board searches for a role and location.
func (c *Careers) JobSearch(role, location string) []JobLink {
	role, location = strings.TrimSpace(role), strings.TrimSpace(location)
	q := strings.TrimSpace(role + " " + location)
	return []JobLink{
		{Name: "LinkedIn", URL: "https://www.linkedin.com/jobs/search/?keywords=" + url.QueryEscape(role) + "&location=" + url.QueryEscape(location)},
		{Name: "Indeed", URL: "https://www.indeed.com/jobs?q=" + url.QueryEscape(role) + "&l=" + url.QueryEscape(location)},
		{Name: "GitHub", URL: "https://github.com/search?q=" + url.QueryEscape(q) + "&type=repositories"},
	}
}

// Settle waits for the sign-in reconciliations already under way.
func (c *Careers) Settle() {
	c.skills.Wait()
	c.apps.Wait()
}

// Sync reconciles both documents with the signed-in user's account now.
func (c *Careers) Sync(ctx context.Context) error {
	c.Settle()
	sess := c.env.Watcher.Current()
	return errors.Join(
		c.skills.OnSessionChange(ctx, sess),
		c.apps.OnSessionChange(ctx, sess),
	)
}

func (c *Careers) Close() {
	c.skills.Close()
	c.apps.Close()
}
