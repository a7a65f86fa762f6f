package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"text/template"

	"github.com/spf13/cobra"
)

func (a *App) newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init <project-name>",
		Short: "Initialize a new Pijaz project",
		Long: `Initialize a new Pijaz project.

Creates a project directory with:
  - main.go: a starter program that saves a render with the Pijaz SDK
  - pijaz.yaml: project configuration with a sample workflow

Example:
  pijaz init mycards
  pijaz init mycards --app-id my-app`,
		Args: cobra.ExactArgs(1),
		RunE: a.runInit,
	}
}

var validProjectName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

func (a *App) runInit(cmd *cobra.Command, args []string) error {
	projectPath := args[0]
	projectName := filepath.Base(projectPath)

	if err := validateProjectName(projectName); err != nil {
		return exitWithCode(ExitValidation, err)
	}

	if _, err := os.Stat(projectPath); err == nil {
		return exitWithCode(ExitValidation, fmt.Errorf("directory %q already exists", projectPath))
	}

	if err := os.MkdirAll(projectPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", projectPath, err)
	}

	appID := a.cfg.AppID
	if appID == "" {
		appID = projectName
	}
	data := templateData{Name: projectName, AppID: appID}

	files := []struct {
		name string
		tmpl *template.Template
	}{
		{"main.go", mainGoTemplate},
		{"pijaz.yaml", projectConfigTemplate},
	}
	for _, f := range files {
		if err := generateFile(filepath.Join(projectPath, f.name), f.tmpl, data); err != nil {
			return fmt.Errorf("failed to create %s: %w", f.name, err)
		}
	}

	fmt.Fprintf(a.stdout, "Created Pijaz project: %s\n\n", projectName)
	fmt.Fprintln(a.stdout, "Next steps:")
	fmt.Fprintf(a.stdout, "  cd %s\n", projectPath)
	fmt.Fprintf(a.stdout, "  pijaz keys set %s\n", appID)
	fmt.Fprintln(a.stdout, "  go run main.go")

	return nil
}

func validateProjectName(name string) error {
	if name == "" {
		return errors.New("project name cannot be empty")
	}

	if !validProjectName.MatchString(name) {
		return fmt.Errorf("invalid project name %q: must start with a letter and contain only letters, numbers, underscores, and hyphens", name)
	}

	switch name {
	case ".", "..", "pijaz":
		return fmt.Errorf("invalid project name %q: reserved name", name)
	}

	return nil
}

type templateData struct {
	Name  string
	AppID string
}

func generateFile(path string, tmpl *template.Template, data templateData) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := tmpl.Execute(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Templates

var mainGoTemplate = template.Must(template.New("main.go").Parse(`package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pijaz/pijaz-go/core"
	"github.com/pijaz/pijaz-go/render"
	"github.com/pijaz/pijaz-go/transport/httpapi"
)

func main() {
	apiKey := os.Getenv("PIJAZ_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PIJAZ_API_KEY not set")
		os.Exit(1)
	}

	manager, err := core.NewServerManager(httpapi.New(), core.DefaultConfig("{{.AppID}}", apiKey))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	product := core.NewProduct(manager, "hello-world",
		core.WithRenderParameters(map[string]any{"message": "Hello from {{.Name}}"}),
	)

	n, err := render.New().SaveToFile(context.Background(), product, "{{.Name}}.png", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	fmt.Printf("Saved %d bytes to {{.Name}}.png\n", n)
}
`))

var projectConfigTemplate = template.Must(template.New("pijaz.yaml").Parse(`# Pijaz project configuration
app_id: {{.AppID}}

# The API key is read from PIJAZ_API_KEY or 'pijaz keys set {{.AppID}}'.
workflows:
  hello-world:
    defaults:
      message: Hello from {{.Name}}
`))
