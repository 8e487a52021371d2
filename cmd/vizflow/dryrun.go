package main

import (
	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/prompt"
)

const dryRunScene = "```python\nfrom manim import *\n\n\nclass DryRun(Scene):\n    def construct(self):\n        eq = MathTex(r\"x^2 + 3x + 2 = (x + 1)(x + 2)\")\n        self.play(Write(eq))\n        self.wait(1)\n```"

const dryRunSketch = "```javascript\nfunction setup() {\n  createCanvas(400, 400);\n}\n\nfunction draw() {\n  background(255);\n  line(0, height / 2, width, height / 2);\n}\n```"

// newDryRunAdapter answers every stage of the embedded templates with a
// canned reply so the whole pipeline runs offline and passes validation.
// Rules key on the label each template ends with.
func newDryRunAdapter(name string, profile prompt.Profile) adapter.Adapter {
	code := dryRunScene
	if profile == prompt.ProfileSketch {
		code = dryRunSketch
	}

	m := adapter.NewNamedMockAdapter(name)
	m.On("TEST RESULTS:", adapter.Text("CODE PASSES TESTING"))
	m.On("ANSWERS:", adapter.Text("YES\nYES\nYES\nYES\nYES"))
	m.On("VERDICT:", adapter.Text("YES"))
	m.On("DIAGNOSIS AND FIX:", adapter.Text("No changes needed.\n"+code))
	m.On("FALLBACK CODE:", adapter.Text(code))
	m.On("PYTHON CODE:", adapter.Text(code))
	m.On("P5.JS CODE:", adapter.Text(code))
	m.On("SANITIZED CODE:", adapter.Text(code))
	m.On("OPTIMIZED CODE:", adapter.Text(code))
	m.On("CODE STRUCTURE:", adapter.Text("One scene that writes the factored equation."))
	m.On("SPECIFICATION:", adapter.Text("1. Write the quadratic.\n2. Transform it into its factored form."))
	m.On("VERIFIED CONCEPT:", adapter.Text("x^2 + 3x + 2 = (x + 1)(x + 2), roots -1 and -2."))
	m.On("VERIFIED PROBLEM:", adapter.Text("x^2 + 3x + 2 = (x + 1)(x + 2), roots -1 and -2."))
	m.Default(adapter.Text("Factor the quadratic x^2 + 3x + 2."))
	return m
}
