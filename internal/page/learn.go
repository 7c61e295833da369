package page

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"devtoolkit/internal/catalog"
	"devtoolkit/internal/docstore"
	"devtoolkit/internal/syncstore"
)

type Level string

const (
	Beginner     Level = "Beginner"
	Intermediate Level = "Intermediate"
	Advanced     Level = "Advanced"
)

// maxModuleLinks caps the suggested resources shown per module.
const maxModuleLinks = 4

var (
	ErrUnknownLevel  = errors.New("unknown level")
	ErrUnknownModule = errors.New("module is not part of the current level")
)

type Module struct {
	ID    string
	Title string
	Blurb string
	Links []string
}

var presets = map[Level][]Module{
	Beginner: {
		{ID: "b_html", Title: "HTML foundations", Blurb: "Tags, semantics, links, images.", Links: []string{"tool_freecodecamp"}},
		{ID: "b_css", Title: "CSS basics", Blurb: "Box model, flexbox, grid.", Links: []string{"tool_tailwind"}},
		{ID: "b_git", Title: "Git and GitHub", Blurb: "Commits, branches, pull requests.", Links: []string{"tool_git", "tool_github"}},
		{ID: "b_js", Title: "JavaScript basics", Blurb: "Variables, functions, events.", Links: []string{"tool_freecodecamp"}},
		{ID: "b_project", Title: "Mini project", Blurb: "Build and deploy a simple website.", Links: []string{"tool_vite", "tool_vercel"}},
	},
	Intermediate: {
		{ID: "i_layout", Title: "Responsive layouts", Blurb: "Grid, clamp, responsive images.", Links: []string{"tool_tailwind"}},
		{ID: "i_fetch", Title: "APIs and fetch", Blurb: "Fetch JSON, errors, loading states.", Links: []string{"tool_postman", "tool_insomnia"}},
		{ID: "i_ts", Title: "TypeScript intro", Blurb: "Types, interfaces, narrowing.", Links: []string{"tool_typescript"}},
		{ID: "i_fw", Title: "Framework basics", Blurb: "Pick React, Vue, or Svelte.", Links: []string{"tool_react", "tool_vue", "tool_svelte"}},
		{ID: "i_deploy", Title: "Deploy and env vars", Blurb: "Ship your app and manage secrets.", Links: []string{"tool_vercel", "tool_netlify", "tool_render"}},
	},
	Advanced: {
		{ID: "a_perf", Title: "Performance and accessibility", Blurb: "Lighthouse, Core Web Vitals, ARIA.", Links: []string{"tool_lighthouse"}},
		{ID: "a_state", Title: "State and data layer", Blurb: "Caching, pagination, data modeling.", Links: []string{"tool_prisma", "tool_supabase"}},
		{ID: "a_auth", Title: "Auth patterns", Blurb: "Sessions, JWTs, providers.", Links: []string{"tool_firebase"}},
		{ID: "a_tests", Title: "Testing strategy", Blurb: "Unit, integration, E2E, CI basics.", Links: []string{"tool_jest", "tool_playwright", "tool_github_actions"}},
		{ID: "a_observe", Title: "Deploy and observe", Blurb: "Logs, metrics, monitoring.", Links: []string{"tool_grafana", "tool_prometheus"}},
	},
}

// Levels lists the presets from easiest to hardest.
func Levels() []Level {
	return []Level{Beginner, Intermediate, Advanced}
}

// ParseLevel matches a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels() {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// Preset returns the modules of level, or nil for an unknown level.
func Preset(level Level) []Module {
	mods := presets[level]
	out := make([]Module, len(mods))
	copy(out, mods)
	return out
}

type LearnPlan struct {
	Level Level
	Done  []string
}

func (p LearnPlan) IsDone(moduleID string) bool {
	for _, id := range p.Done {
		if id == moduleID {
			return true
		}
	}
	return false
}

type learnPlanKind struct{}

func (learnPlanKind) Descriptor() syncstore.Descriptor {
	return syncstore.Descriptor{
		LocalKey:   "dt.learn.plan.v1",
		Collection: "learn",
		DocID:      "plan",
		ExportName: "learn-plan.txt",
	}
}

func (learnPlanKind) Default() LearnPlan {
	return LearnPlan{Level: Beginner, Done: []string{}}
}

// Normalize falls back to Beginner and keeps only the level's modules, in
// first-seen order.
func (learnPlanKind) Normalize(p LearnPlan) LearnPlan {
	if _, ok := presets[p.Level]; !ok {
		p.Level = Beginner
	}
	allowed := make(map[string]bool, len(presets[p.Level]))
	for _, m := range presets[p.Level] {
		allowed[m.ID] = true
	}
	done := make([]string, 0, len(p.Done))
	seen := make(map[string]bool, len(p.Done))
	for _, id := range p.Done {
		if allowed[id] && !seen[id] {
			seen[id] = true
			done = append(done, id)
		}
	}
	p.Done = done
	return p
}

func (learnPlanKind) Progress(p LearnPlan) int { return len(p.Done) }

func (learnPlanKind) Encode(p LearnPlan) docstore.Fields {
	return docstore.Fields{
		"level": string(p.Level),
		"done":  append([]string(nil), p.Done...),
	}
}

func (learnPlanKind) Decode(f docstore.Fields) LearnPlan {
	return LearnPlan{Level: Level(f.String("level")), Done: f.Strings("done")}
}

func (learnPlanKind) Render(p LearnPlan) string {
	lines := []string{"DevToolkit Learn Plan", "Level: " + string(p.Level), ""}
	for _, m := range presets[p.Level] {
		mark := "[ ]"
		if p.IsDone(m.ID) {
			mark = "[x]"
		}
		lines = append(lines, mark+" "+m.Title)
	}
	return strings.Join(lines, "\n")
}

// ModuleView is a module of the current level with its state and the
// catalog tools it suggests.
type ModuleView struct {
	Module
	Done      bool
	Resources []catalog.Tool
}

// Learn is the roadmap page. The plan lives in local storage and, for a
// signed-in user, in users/{uid}/learn/plan.
type Learn struct {
	env   Env
	store *syncstore.Store[LearnPlan]
}

func NewLearn(env Env) *Learn {
	env = env.withDefaults()
	store := syncstore.New[LearnPlan](learnPlanKind{}, env.Local, env.Remote,
		syncstore.WithLogger(env.Logger.Named("learn")),
		syncstore.WithClock(env.Now),
	)
	store.Bind(env.Watcher)
	return &Learn{env: env, store: store}
}

func (l *Learn) Plan() LearnPlan {
	return l.store.Value().Payload
}

// SetLevel switches presets and clears progress. Picking the current level
// changes nothing.
func (l *Learn) SetLevel(ctx context.Context, level Level) (LearnPlan, error) {
	if _, ok := presets[level]; !ok {
		return l.Plan(), fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	if l.Plan().Level == level {
		return l.Plan(), nil
	}
	v := l.store.Mutate(ctx, LearnPlan{Level: level, Done: []string{}})
	return v.Payload, nil
}

// Toggle flips one module of the current level.
func (l *Learn) Toggle(ctx context.Context, moduleID string) (LearnPlan, error) {
	plan := l.Plan()
	if !inLevel(plan.Level, moduleID) {
		return plan, fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}
	v := l.store.Update(ctx, func(p LearnPlan) LearnPlan {
		if p.IsDone(moduleID) {
			done := p.Done[:0]
			for _, id := range p.Done {
				if id != moduleID {
					done = append(done, id)
				}
			}
			p.Done = done
			return p
		}
		p.Done = append(p.Done, moduleID)
		return p
	})
	return v.Payload, nil
}

// Reset clears progress but keeps the level.
func (l *Learn) Reset(ctx context.Context) LearnPlan {
	level := l.Plan().Level
	return l.store.Mutate(ctx, LearnPlan{Level: level, Done: []string{}}).Payload
}

func (l *Learn) Progress() Progress {
	p := l.Plan()
	return newProgress(len(p.Done), len(presets[p.Level]))
}

func (l *Learn) Modules() []ModuleView {
	p := l.Plan()
	mods := presets[p.Level]
	out := make([]ModuleView, 0, len(mods))
	for _, m := range mods {
		out = append(out, ModuleView{
			Module:    m,
			Done:      p.IsDone(m.ID),
			Resources: l.env.Catalog.Resolve(m.Links, maxModuleLinks),
		})
	}
	return out
}

func (l *Learn) Export() *syncstore.Download {
	return l.store.Export()
}

// SaveToAccount writes the plan to the signed-in user's document and
// reports the outcome, unlike the background writes made on every change.
func (l *Learn) SaveToAccount(ctx context.Context) error {
	uid, err := l.env.currentUser()
	if err != nil {
		return err
	}
	if err := l.store.Push(ctx, uid); err != nil {
		l.env.Logger.Warn("learn plan save failed", zap.String("user_id", uid), zap.Error(err))
		return err
	}
	return nil
}

// Subscribe reports every plan change, including ones restored from the
// account after sign-in.
func (l *Learn) Subscribe(fn func(LearnPlan)) (cancel func()) {
	return l.store.Subscribe(func(e syncstore.Event[LearnPlan]) { fn(e.Value.Payload) })
}

// Settle waits for the sign-in reconciliation already under way, if any.
func (l *Learn) Settle() {
	l.store.Wait()
}

// Sync reconciles with the signed-in user's document now and reports
// failures that the background reconciliation only logs.
func (l *Learn) Sync(ctx context.Context) error {
	l.store.Wait()
	return l.store.OnSessionChange(ctx, l.env.Watcher.Current())
}

func (l *Learn) Close() {
	l.store.Close()
}

func inLevel(level Level, moduleID string) bool {
	for _, m := range presets[level] {
		if m.ID == moduleID {
			return true
		}
	}
	return false
}
