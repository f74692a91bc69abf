package main

import (
	"fmt"
	"os"

	"artcat/cmd/artcat/commands"

	"github.com/charmbracelet/lipgloss"
)

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("ERROR: "+err.Error()))
		os.Exit(1)
	}
}
