package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/zkbot/cupwash/pkg/wash"
)

type HistoryCommand struct {
	Errors bool `short:"e" long:"errors" description:"Show the error log instead of the wash log"`
	Last   int  `short:"n" long:"last" default:"20" description:"Number of entries to show"`
}

func (c *HistoryCommand) Execute(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if c.Errors {
		errs, err := store.Errors()
		if err != nil {
			return err
		}
		printErrors(tail(errs, c.Last))
		return nil
	}
	cycles, err := store.Cycles()
	if err != nil {
		return err
	}
	printCycles(tail(cycles, c.Last))
	return nil
}

func tail[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

func printCycles(cycles []wash.CycleRecord) {
	if len(cycles) == 0 {
		fmt.Println("No cycles logged yet.")
		return
	}

	rows := make([][]string, 0, len(cycles))
	ok := 0
	for _, r := range cycles {
		result := "ok"
		if !r.Success {
			result = r.Error
		} else {
			ok++
		}
		rows = append(rows, []string{
			r.Timestamp.Format("2006-01-02 15:04:05"),
			fmt.Sprint(r.CupNumber),
			fmt.Sprintf("%.1fs", r.CycleTime),
			r.Program,
			result,
		})
	}

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Time", "Cup", "Cycle", "Program", "Result").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 4 && row >= 0 && row < len(cycles) {
				if cycles[row].Success {
					return successStyle.Padding(0, 1)
				}
				return errorStyle.Padding(0, 1)
			}
			return cellStyle
		})
	fmt.Println(t.Render())
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d of %d cycles succeeded", ok, len(cycles))))
}

func printErrors(errs []wash.ErrorRecord) {
	if len(errs) == 0 {
		fmt.Println("No errors logged.")
		return
	}

	rows := make([][]string, 0, len(errs))
	for _, e := range errs {
		rows = append(rows, []string{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			string(e.State),
			e.Message,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Time", "State", "Message").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 2 {
				return errorStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Println(t.Render())
}
