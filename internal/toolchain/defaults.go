package toolchain

// Tool names used by the executors.
const (
	ToolStylelint    = "stylelint"
	ToolSass         = "sass"
	ToolAutoprefixer = "autoprefixer"
	ToolPHPCS        = "phpcs"
	ToolPrettyDiff   = "prettydiff"
	ToolJpegtran     = "jpegtran"
)

// DefaultTools returns the stock command lines for every tool.
func DefaultTools() []Tool {
	return []Tool{
		{
			Name:    ToolStylelint,
			Command: "stylelint",
			Args:    []string{"{input}", "--config", "{config}", "--formatter", "string"},
		},
		{
			Name:    ToolSass,
			Command: "sass",
			Args:    []string{"--no-error-css", "{sourcemap}", "{input}", "{output}"},
		},
		{
			Name:    ToolAutoprefixer,
			Command: "postcss",
			Args:    []string{"{input}", "--use", "autoprefixer", "--no-map", "-o", "{output}"},
		},
		{
			Name:    ToolPHPCS,
			Command: "phpcs",
			Args:    []string{"--standard={standard}", "--warning-severity={severity}", "--report=json", "{files}"},
		},
		{
			Name:    ToolPrettyDiff,
			Command: "prettydiff",
			Args:    []string{"beautify", "source:{input}", "lang:{lang}", "mode:{mode}"},
		},
		{
			Name:    ToolJpegtran,
			Command: "jpegtran",
			Args:    []string{"-copy", "none", "-optimize", "-progressive"},
		},
	}
}

// NewDefaultRegistry creates a registry holding DefaultTools run by runner.
func NewDefaultRegistry(runner Runner) *Registry {
	r := NewRegistry(runner)
	for _, t := range DefaultTools() {
		r.Register(t)
	}
	return r
}
