package workflow

import "github.com/launchflow/helmsman/internal/domain/agent"

// SoftwareDelivery is the built-in definition mirroring the standard
// project lifecycle: discovery, design, build, a parallel validation split
// (testing plus an optional code review), and launch. Validation loops back
// to build until the tester reports tests_passed.
func SoftwareDelivery() *Definition {
	return &Definition{
		Name:  "software_delivery",
		Entry: "discovery",
		Phases: []Phase{
			{
				Name:         "discovery",
				Agent:        agent.TypeAnalyst,
				Instructions: "Gather requirements and produce a requirements document.",
				ExpectedOutputs: []string{
					"requirements",
				},
				EstimatedTokens: 8000,
				Next:            "design",
			},
			{
				Name:         "design",
				Agent:        agent.TypeArchitect,
				Instructions: "Produce an architecture design from the requirements.",
				ExpectedOutputs: []string{
					"design_doc",
				},
				EstimatedTokens: 12000,
				Next:            "build",
			},
			{
				Name:            "build",
				Agent:           agent.TypeCoder,
				Instructions:    "Implement the design. Address review findings if present.",
				EstimatedTokens: 25000,
				Next:            "verify",
			},
			{
				Name: "verify",
				Parallel: &ParallelSpec{
					Branches: []Branch{
						{Phase: "test"},
						{Phase: "review", Optional: true},
					},
					Join: "gate",
				},
			},
			{
				Name:            "test",
				Agent:           agent.TypeTester,
				Instructions:    "Run the test suite and report tests_passed.",
				EstimatedTokens: 10000,
			},
			{
				Name:            "review",
				Agent:           agent.TypeAnalyst,
				Instructions:    "Review the implementation against requirements.",
				EstimatedTokens: 6000,
			},
			{
				Name:  "gate",
				Agent: agent.TypeTester,
				Instructions: "Summarize verification results and set tests_passed " +
					"in the workflow context.",
				EstimatedTokens: 2000,
				Conditions: []Edge{
					{When: Predicate{Var: "tests_passed", Op: OpTruthy}, To: "launch"},
				},
				Next: "build",
			},
			{
				Name:            "launch",
				Agent:           agent.TypeDeployer,
				Instructions:    "Deploy the validated build.",
				EstimatedTokens: 5000,
			},
		},
	}
}
