// Package lua evaluates dietary rules written in a sandboxed Lua script.
package lua

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"
)

//go:embed rules.lua
var defaultRules string

// Rules runs a rules script. An LState is not safe for concurrent use, so
// every call into the VM holds mu.
type Rules struct {
	mu     sync.Mutex
	L      *lua.LState
	source string
	logger *slog.Logger
}

// Removal records one ingredient the rules rejected.
type Removal struct {
	Ingredient string `json:"ingredient"`
	Reason     string `json:"reason"`
}

// Result is the outcome of filtering a list of ingredients.
type Result struct {
	Restrictions []string  `json:"restrictions"`
	Allowed      []string  `json:"allowed"`
	Removed      []Removal `json:"removed"`
	Unknown      []string  `json:"unknown_restrictions,omitempty"`
}

// Load reads a rules script from path. An empty path selects the built-in
// rules.
func Load(path string, logger *slog.Logger) (*Rules, error) {
	if path == "" {
		return New("builtin", defaultRules, logger)
	}
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules script: %w", err)
	}
	return New(path, string(script), logger)
}

// New loads script into a fresh sandboxed VM. The script must define a global
// allowed(ingredient, restriction) function.
func New(source, script string, logger *slog.Logger) (*Rules, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Rules{source: source, logger: logger.With("rules", source)}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	r.openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load rules script: %w", err)
	}
	if fn, ok := L.GetGlobal("allowed").(*lua.LFunction); !ok || fn == nil {
		L.Close()
		return nil, fmt.Errorf("rules script must define an 'allowed' function")
	}

	r.L = L
	return r, nil
}

// openSafeLibs loads base, table, string and math without the functions that
// reach the filesystem or break determinism.
func (r *Rules) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("print", lua.LNil) // use log()

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (r *Rules) registerAPI(L *lua.LState) {
	L.SetGlobal("log", L.NewFunction(r.luaLog))
	L.SetGlobal("has", L.NewFunction(luaHas))
}

// luaHas implements has(s, word)
func luaHas(L *lua.LState) int {
	L.Push(lua.LBool(HasWord(L.CheckString(1), L.CheckString(2))))
	return 1
}

// HasWord reports whether word occurs in s on word boundaries. A trailing
// "s" or "es" still counts as a match so plurals are caught.
func HasWord(s, word string) bool {
	if word == "" {
		return false
	}
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(word)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !unicode.IsLetter(r)
}

func boundaryAfter(s string, i int) bool {
	rest := s[i:]
	for _, suffix := range []string{"es", "s", ""} {
		if !strings.HasPrefix(rest, suffix) {
			continue
		}
		tail := rest[len(suffix):]
		if tail == "" {
			return true
		}
		r, _ := utf8.DecodeRuneInString(tail)
		if !unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// luaLog implements log(message)
func (r *Rules) luaLog(L *lua.LState) int {
	r.logger.Debug(L.CheckString(1))
	return 0
}

func (r *Rules) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.L != nil {
		r.L.Close()
		r.L = nil
	}
}

func (r *Rules) Source() string {
	return r.source
}

// Allowed asks the script whether ingredient satisfies a single restriction.
func (r *Rules) Allowed(ingredient, restriction string) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.call(normalizeIngredient(ingredient), normalizeRestriction(restriction))
}

func (r *Rules) call(ingredient, restriction string) (bool, string, error) {
	if r.L == nil {
		return false, "", fmt.Errorf("rules engine is closed")
	}

	L := r.L
	L.Push(L.GetGlobal("allowed"))
	L.Push(lua.LString(ingredient))
	L.Push(lua.LString(restriction))
	if err := L.PCall(2, 2, nil); err != nil {
		return false, "", fmt.Errorf("rule evaluation failed for %q (%s): %w", ingredient, restriction, err)
	}
	ok := lua.LVAsBool(L.Get(-2))
	reason := lua.LVAsString(L.Get(-1))
	L.Pop(2)
	return ok, reason, nil
}

// known uses the optional known(restriction) script function. Scripts that do
// not define it treat every restriction as known.
func (r *Rules) known(restriction string) (bool, error) {
	fn, ok := r.L.GetGlobal("known").(*lua.LFunction)
	if !ok {
		return true, nil
	}
	r.L.Push(fn)
	r.L.Push(lua.LString(restriction))
	if err := r.L.PCall(1, 1, nil); err != nil {
		return false, fmt.Errorf("known(%q) failed: %w", restriction, err)
	}
	v := lua.LVAsBool(r.L.Get(-1))
	r.L.Pop(1)
	return v, nil
}

// Filter keeps the ingredients that satisfy every restriction. Restrictions
// the script does not recognise allow everything.
func (r *Rules) Filter(ingredients []string, restrictions string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.L == nil {
		return nil, fmt.Errorf("rules engine is closed")
	}

	res := &Result{
		Restrictions: ParseRestrictions(restrictions),
		Allowed:      []string{},
		Removed:      []Removal{},
	}

	for _, restriction := range res.Restrictions {
		ok, err := r.known(restriction)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.logger.Debug("unknown dietary restriction, allowing everything", "restriction", restriction)
			res.Unknown = append(res.Unknown, restriction)
		}
	}

	for _, raw := range ingredients {
		ingredient := normalizeIngredient(raw)
		if ingredient == "" {
			continue
		}
		var reasons []string
		for _, restriction := range res.Restrictions {
			ok, reason, err := r.call(ingredient, restriction)
			if err != nil {
				return nil, err
			}
			if !ok {
				reasons = append(reasons, reason)
			}
		}
		if len(reasons) == 0 {
			res.Allowed = append(res.Allowed, ingredient)
		} else {
			res.Removed = append(res.Removed, Removal{Ingredient: ingredient, Reason: strings.Join(reasons, "; ")})
		}
	}
	return res, nil
}

var (
	restrictionSplitRe = regexp.MustCompile(`(?i)\s*(?:,|;|/|&|\+|\band\b)\s*`)
	separatorRe        = regexp.MustCompile(`[\s_]+`)
)

// ParseRestrictions splits a free-form restriction string such as
// "vegan and gluten free" into normalised names.
func ParseRestrictions(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range restrictionSplitRe.Split(s, -1) {
		name := normalizeRestriction(part)
		if name == "" || name == "none" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func normalizeRestriction(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".!")
	return separatorRe.ReplaceAllString(s, "-")
}

func normalizeIngredient(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
