package feedback

import (
	"os"
	"path/filepath"
)

// Category classifies a feedback command.
type Category string

const (
	CategoryTests     Category = "tests"
	CategoryTypeCheck Category = "type-check"
	CategoryLint      Category = "lint"
	CategoryCustom    Category = "custom"
)

// Command is a shell command to run in the worktree after an iteration.
type Command struct {
	Category Category
	Command  string
}

// detection probes marker files in priority order; the first match per
// category wins.
var detection = []struct {
	category Category
	marker   string
	command  string
}{
	// Tests
	{CategoryTests, "playwright.config.ts", "npx playwright test"},
	{CategoryTests, "playwright.config.js", "npx playwright test"},
	{CategoryTests, "bun.lockb", "bun test"},
	{CategoryTests, "pnpm-lock.yaml", "pnpm test"},
	{CategoryTests, "yarn.lock", "yarn test"},
	{CategoryTests, "package.json", "npm test --silent"},
	{CategoryTests, "Cargo.toml", "cargo test"},
	{CategoryTests, "go.mod", "go test ./..."},
	{CategoryTests, "pytest.ini", "pytest -q"},
	{CategoryTests, "pyproject.toml", "pytest -q"},

	// Type checking
	{CategoryTypeCheck, "tsconfig.json", "npx tsc --noEmit"},
	{CategoryTypeCheck, "Cargo.toml", "cargo check"},
	{CategoryTypeCheck, "go.mod", "go vet ./..."},

	// Linting
	{CategoryLint, "biome.json", "npx biome check ."},
	{CategoryLint, ".eslintrc", "npx eslint ."},
	{CategoryLint, ".eslintrc.js", "npx eslint ."},
	{CategoryLint, ".eslintrc.json", "npx eslint ."},
	{CategoryLint, ".eslintrc.yaml", "npx eslint ."},
	{CategoryLint, "pyproject.toml", "ruff check ."},
}

// Detect probes the worktree for marker files and returns at most one
// command per category, in tests/type-check/lint order.
func Detect(worktree string) []Command {
	var out []Command
	seen := make(map[Category]bool, 3)
	for _, d := range detection {
		if seen[d.category] {
			continue
		}
		if _, err := os.Stat(filepath.Join(worktree, d.marker)); err == nil {
			out = append(out, Command{Category: d.category, Command: d.command})
			seen[d.category] = true
		}
	}
	return out
}
