package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSession(w io.Writer, s domain.Session) {
	fmt.Fprintf(w, "Phase: %s (%s)\n", s.Phase, s.Mode)
	if s.NextPhase != nil {
		fmt.Fprintf(w, "Next:  %s\n", *s.NextPhase)
	}

	switch s.Phase {
	case domain.PhasePick:
		printStories(w, s)
	case domain.PhaseRed:
		printStory(w, s)
		printTests(w, s)
		if t := effectiveTest(s); t != nil {
			fmt.Fprintf(w, "\nSelected test [%s] -> %s\n%s\n", t.ID, targetOrDefault(t.TargetFile), indent(t.Code))
		}
	case domain.PhaseGreen:
		printStory(w, s)
		if t := effectiveTest(s); t != nil {
			fmt.Fprintf(w, "Test:  %s\n", t.Title)
		}
		fmt.Fprintf(w, "Hints: %d given\n", len(s.Transcript))
		if s.TestResults != nil {
			printResult(w, *s.TestResults)
		}
	case domain.PhaseRefactoring:
		printStory(w, s)
		printRefactorings(w, s)
	}
}

func printStory(w io.Writer, s domain.Session) {
	if s.SelectedUserStory != nil {
		fmt.Fprintf(w, "Story: %s\n", s.SelectedUserStory.Title)
	}
}

func printStories(w io.Writer, s domain.Session) {
	if len(s.UserStories) == 0 {
		fmt.Fprintln(w, "No user stories yet. Run `tddctl start`.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tDESCRIPTION")
	for _, st := range s.UserStories {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", st.ID, st.Title, st.Description)
	}
	_ = tw.Flush()
}

func printTests(w io.Writer, s domain.Session) {
	if len(s.TestProposals) == 0 {
		fmt.Fprintln(w, "No test proposals.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTARGET")
	for _, t := range s.TestProposals {
		marker := ""
		if s.SelectedTest != nil && s.SelectedTest.ID == t.ID {
			marker = " *"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\n", t.ID, marker, t.Title, targetOrDefault(t.TargetFile))
	}
	_ = tw.Flush()
}

func printRefactorings(w io.Writer, s domain.Session) {
	if len(s.RefactoringSuggestions) == 0 {
		fmt.Fprintln(w, "No refactoring suggestions.")
		return
	}
	fmt.Fprintln(w, "Refactoring suggestions:")
	for _, r := range s.RefactoringSuggestions {
		fmt.Fprintf(w, "  - %s: %s\n", r.Title, r.Description)
	}
}

func printResult(w io.Writer, r domain.TestResult) {
	status := "FAIL"
	if r.Success {
		status = "PASS"
	}
	fmt.Fprintf(w, "Tests: %s\n", status)
	if msg := strings.TrimSpace(r.Message); msg != "" {
		fmt.Fprintln(w, indent(msg))
	}
}

func effectiveTest(s domain.Session) *domain.TestProposal {
	if s.ModifiedSelectedTest != nil {
		return s.ModifiedSelectedTest
	}
	return s.SelectedTest
}

func targetOrDefault(target string) string {
	if target == "" {
		return "(default)"
	}
	return target
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}
