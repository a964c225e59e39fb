package prompt

// Template names resolvable via LoadTemplate.
const (
	PhaseTemplate  = "phase.md"
	FixTemplate    = "fix.md"
	ReviewTemplate = "review.md"
)

// PivotDirective is injected into the next iteration's prompt when a phase
// has stalled and the strategy grants one recovery attempt.
const PivotDirective = `Your recent iterations have produced no repository changes. The current
approach is not working. Abandon it. Before writing any code, state what is
blocking progress, then pick a materially different strategy and pursue that
instead. Do not repeat the steps you have already tried.`

var builtinTemplates = map[string]string{
	PhaseTemplate:  phaseTemplate,
	FixTemplate:    fixTemplate,
	ReviewTemplate: reviewTemplate,
}

const phaseTemplate = `# Phase: {{phase_name}}

You are working on issue #{{issue_number}}: {{issue_title}}

{{#if issue_body}}
## Issue Description

{{issue_body}}
{{/if}}

## Instructions

{{instructions}}

## Context

- Working directory: {{workdir}}
- Iteration {{iteration}} of {{budget}} for this phase
{{#if prior_summary}}
- Previous iteration summary:

{{prior_summary}}
{{/if}}
{{#if last_error}}
## Previous Attempt Failed

The previous iteration ended with an error. Diagnose the cause before
retrying:

{{last_error}}
{{/if}}
{{#if pivot_directive}}
## Course Correction Required

{{pivot_directive}}
{{/if}}

## Requirements

1. Make concrete progress toward completing this phase
2. Commit your work with a descriptive message when done
3. If the phase is complete, say so explicitly in your final summary
`

const fixTemplate = `# Fix Required: {{phase_name}}

A review of your work on issue #{{issue_number}} ({{issue_title}}) found
problems that must be corrected before the phase can complete.

## Findings

{{findings}}

{{#if review_summary}}
## Reviewer Summary

{{review_summary}}
{{/if}}

## Instructions

1. Address every finding above
2. Do not introduce unrelated changes
3. Commit the fixes with a descriptive message

Fix attempt {{fix_attempt}} of {{max_fix_attempts}}.
`

const reviewTemplate = `# Review: {{phase_name}}

You are the {{specialist}} reviewer for issue #{{issue_number}}: {{issue_title}}

Review the work completed in this phase. The phase instructions were:

{{instructions}}

{{#if work_summary}}
## Work Summary

{{work_summary}}
{{/if}}

## Output Format

Respond with a single JSON object on its own line:

` + "```" + `json
{"specialist": "{{specialist}}", "confidence": 0.0, "remediable": true, "summary": "...", "findings": [{"severity": "minor|major|critical", "description": "...", "location": "..."}]}
` + "```" + `

- confidence: 0.0 to 1.0, how confident you are the work is correct
- remediable: whether the findings could be fixed by a focused follow-up
- findings: empty array if the work passes cleanly
`
