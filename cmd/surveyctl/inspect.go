package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"surveyforge/api/internal/survey"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file|->",
		Short: "Print the section and question tree of a schema document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			printTree(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func printTree(w io.Writer, s *survey.Survey) {
	title := s.Title
	if strings.TrimSpace(title) == "" {
		title = survey.UntitledSurvey
	}
	fmt.Fprintf(w, "%s [%s] %d sections, %d questions\n", title, s.Locale, len(s.Sections), s.QuestionCount())
	for _, sec := range s.Sections {
		fmt.Fprintf(w, "  %s %q%s\n", sec.Name, sec.Title, condition(sec.VisibleIf))
		for _, q := range sec.Questions {
			required := ""
			if q.IsRequired {
				required = " *"
			}
			fmt.Fprintf(w, "    %s (%s)%s %q%s\n", q.Name, q.Type, required, q.Title, condition(q.VisibleIf))
			if q.Type.HasChoices() {
				for _, choice := range q.Choices {
					fmt.Fprintf(w, "      - %s\n", choice)
				}
			}
		}
	}
}

func condition(expr string) string {
	if expr == "" {
		return ""
	}
	return " if " + expr
}
