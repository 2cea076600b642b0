package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/zkbot/cupwash/pkg/storage"
	"github.com/zkbot/cupwash/pkg/wash"
)

type ProgramCommand struct {
	List   ProgramListCommand   `command:"list" description:"List saved programs"`
	Show   ProgramShowCommand   `command:"show" description:"Show the steps of a program"`
	Import ProgramImportCommand `command:"import" description:"Validate a program JSON file and save it"`
	Delete ProgramDeleteCommand `command:"delete" description:"Delete a program"`
}

type programArg struct {
	Name string `positional-arg-name:"name" required:"yes"`
}

func openStore() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.New(cfg.DataDir), nil
}

type ProgramListCommand struct{}

func (c *ProgramListCommand) Execute(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	names, err := store.ListPrograms()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No programs saved.")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

type ProgramShowCommand struct {
	Args programArg `positional-args:"yes"`
}

func (c *ProgramShowCommand) Execute(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	p, err := store.LoadProgram(c.Args.Name)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(p.Name))
	if p.Description != "" {
		fmt.Println(p.Description)
	}
	if p.LastModified != nil {
		fmt.Println(dimStyle.Render("Modified " + p.LastModified.Format("2006-01-02 15:04")))
	}

	rows := make([][]string, 0, len(p.Steps))
	for i, s := range p.Steps {
		pause := ""
		if s.Pause > 0 {
			pause = strconv.FormatFloat(s.Pause, 'f', -1, 64) + "s"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), s.Cmd, s.String(), pause})
	}

	cmdStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("#", "Cmd", "Step", "Pause").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 1 {
				return cmdStyle
			}
			return cellStyle
		})
	fmt.Println(t.Render())
	return nil
}

type ProgramImportCommand struct {
	Name string `long:"name" description:"Save under this name instead of the one in the file"`
	Args struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes"`
}

func (c *ProgramImportCommand) Execute(args []string) error {
	data, err := os.ReadFile(c.Args.File)
	if err != nil {
		return err
	}
	var p wash.Program
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse %s: %w", c.Args.File, err)
	}
	if c.Name != "" {
		p.Name = c.Name
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.SaveProgram(&p); err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Saved program %q (%d steps)", p.Name, len(p.Steps))))
	return nil
}

type ProgramDeleteCommand struct {
	Args programArg `positional-args:"yes"`
}

func (c *ProgramDeleteCommand) Execute(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.DeleteProgram(c.Args.Name); err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Deleted %s", c.Args.Name)))
	return nil
}
