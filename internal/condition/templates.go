package condition

// Template is a reusable condition expression offered to workflow authors.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Expression  string `json:"expression"`
}

var builtinTemplates = []Template{
	{
		ID:          "contains-keyword",
		Name:        "Contains keyword",
		Description: "Output mentions a keyword (case-insensitive)",
		Expression:  `output.toLowerCase().includes("keyword")`,
	},
	{
		ID:          "positive-sentiment",
		Name:        "Positive sentiment",
		Description: "Output reads as positive",
		Expression:  `sentimentAnalysis(output) === "positive"`,
	},
	{
		ID:          "length-check",
		Name:        "Length check",
		Description: "Output is longer than 100 characters",
		Expression:  `output.length > 100`,
	},
	{
		ID:          "valid-json",
		Name:        "Valid JSON",
		Description: "Output parses as JSON",
		Expression:  `JSON.parse(output) !== null`,
	},
}

// Templates returns a copy of the built-in condition templates.
func Templates() []Template {
	out := make([]Template, len(builtinTemplates))
	copy(out, builtinTemplates)
	return out
}
