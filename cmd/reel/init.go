// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sigil-dev/reel/internal/config"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/secrets"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// initHTTPClient is the HTTP client used for key validation.
// Exposed as a variable so tests can replace it.
var initHTTPClient = &http.Client{Timeout: 10 * time.Second}

// providerProfile is the model set written for a provider chosen in the
// wizard. Dimensions must match the embedder's output width.
type providerProfile struct {
	Name        string
	Label       string
	Describer   string
	Embedder    string
	Synthesizer string
	Transcriber string
	Dimensions  int
}

var supportedProviders = []providerProfile{
	{
		Name:        "openai",
		Label:       "OpenAI (vision, embeddings, Whisper audio)",
		Describer:   "openai/gpt-4o-mini",
		Embedder:    "openai/text-embedding-3-small",
		Synthesizer: "openai/gpt-4o-mini",
		Transcriber: "whisper/whisper-1",
		Dimensions:  1536,
	},
	{
		Name:        "google",
		Label:       "Google Gemini (no audio pass)",
		Describer:   "google/gemini-2.0-flash",
		Embedder:    "google/text-embedding-004",
		Synthesizer: "google/gemini-2.0-flash",
		Dimensions:  768,
	},
	{
		Name:        "nim",
		Label:       "NVIDIA NIM (no audio pass)",
		Describer:   "nim/meta/llama-3.2-11b-vision-instruct",
		Embedder:    "nim/nvidia/nv-embedqa-e5-v5",
		Synthesizer: "nim/meta/llama-3.1-70b-instruct",
		Dimensions:  1024,
	},
}

type initWizardStep int

const (
	stepProvider    initWizardStep = iota // select provider
	stepAPIKey                            // enter API key
	stepValidateKey                       // validating key (spinner)
	stepDone                              // wizard complete
	stepError                             // terminal error
)

// initResult holds the collected wizard configuration.
type initResult struct {
	Provider providerProfile
	APIKey   string
}

// --- bubbletea messages ---

type (
	validationSuccessMsg struct{}
	validationErrorMsg   struct{ err error }
	configWrittenMsg     struct{ path string }
)

// --- lipgloss styles ---

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// initModel is the bubbletea model for the init wizard.
type initModel struct {
	step           initWizardStep
	providerIdx    int
	apiKeyInput    textinput.Model
	spinner        spinner.Model
	result         initResult
	validationErr  string
	configPath     string
	secretStore    secrets.Store
	errFinal       error
	forceOverwrite bool
}

func newInitModel(store secrets.Store) initModel {
	apiKey := textinput.New()
	apiKey.Placeholder = "paste API key here"
	apiKey.EchoMode = textinput.EchoPassword
	apiKey.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:        stepProvider,
		apiKeyInput: apiKey,
		spinner:     sp,
		secretStore: store,
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.step {
		case stepProvider:
			return m.handleProviderKey(msg)
		case stepAPIKey:
			return m.handleAPIKeyInput(msg)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case validationSuccessMsg:
		return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)

	case validationErrorMsg:
		m.validationErr = msg.err.Error()
		m.step = stepAPIKey
		m.apiKeyInput.Focus()
		return m, nil

	case configWrittenMsg:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	if m.step == stepAPIKey {
		var cmd tea.Cmd
		m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m initModel) handleProviderKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.providerIdx > 0 {
			m.providerIdx--
		}
	case "down", "j":
		if m.providerIdx < len(supportedProviders)-1 {
			m.providerIdx++
		}
	case "enter":
		m.result.Provider = supportedProviders[m.providerIdx]
		m.step = stepAPIKey
		m.validationErr = ""
		m.apiKeyInput.SetValue("")
		m.apiKeyInput.Focus()
		return m, textinput.Blink
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleAPIKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(m.apiKeyInput.Value())
		if key == "" {
			m.validationErr = "API key must not be empty"
			return m, nil
		}
		m.result.APIKey = key
		m.validationErr = ""
		m.step = stepValidateKey
		return m, tea.Batch(
			m.spinner.Tick,
			validateProviderKeyCmd(m.result.Provider.Name, key),
		)
	case "esc":
		m.step = stepProvider
		m.validationErr = ""
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	return m, cmd
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  reel setup  ") + "\n\n")

	switch m.step {
	case stepProvider:
		b.WriteString(promptStyle.Render("Choose a model provider") + "\n\n")
		for i, p := range supportedProviders {
			if i == m.providerIdx {
				b.WriteString(selectedStyle.Render("  > "+p.Label) + "\n")
			} else {
				b.WriteString(dimStyle.Render("    "+p.Label) + "\n")
			}
		}
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepAPIKey:
		b.WriteString(promptStyle.Render(m.result.Provider.Name+" API key") + "\n\n")
		b.WriteString(m.apiKeyInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  esc to go back  ctrl+c to quit"))

	case stepValidateKey:
		b.WriteString(m.spinner.View() + " Validating " + m.result.Provider.Name + " API key…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		if m.configPath != "" {
			b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		}
		b.WriteString("Run " + promptStyle.Render("reel serve") + " or " + promptStyle.Render("reel ingest <file>") + " to get started.\n")
		b.WriteString("Run " + promptStyle.Render("reel doctor") + " to verify setup.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

// --- tea.Cmd factories ---

func validateProviderKeyCmd(name, key string) tea.Cmd {
	return func() tea.Msg {
		if err := provider.ValidateKey(context.Background(), initHTTPClient, name, key, ""); err != nil {
			return validationErrorMsg{err: err}
		}
		return validationSuccessMsg{}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, forceOverwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, err := storeSecretAndWriteConfig(result, store, forceOverwrite)
		if err != nil {
			return err
		}
		return configWrittenMsg{path: path}
	}
}

// --- Config generation ---

type (
	generatedConfig struct {
		Server    generatedServer              `yaml:"server"`
		Storage   generatedStorage             `yaml:"storage"`
		Providers map[string]generatedProvider `yaml:"providers"`
		Models    generatedModels              `yaml:"models"`
		Ingest    generatedIngest              `yaml:"ingest"`
	}
	generatedServer struct {
		Listen string `yaml:"listen"`
	}
	generatedStorage struct {
		DataDir string         `yaml:"data_dir"`
		Videos  string         `yaml:"videos"`
		Index   generatedIndex `yaml:"index"`
	}
	generatedIndex struct {
		Backend    string `yaml:"backend"`
		Dimensions int    `yaml:"dimensions"`
	}
	generatedProvider struct {
		APIKey string `yaml:"api_key"`
	}
	generatedModels struct {
		Describer   string `yaml:"describer"`
		Embedder    string `yaml:"embedder"`
		Synthesizer string `yaml:"synthesizer"`
		Transcriber string `yaml:"transcriber"`
	}
	generatedIngest struct {
		AudioEnabled bool `yaml:"audio_enabled"`
	}
)

const generatedHeader = "# reel configuration, generated by reel init.\n" +
	"# API keys live in the OS keyring; see `reel secret list`.\n\n"

// GenerateConfigYAML produces a minimal reel.yaml from the wizard result.
// API keys are referenced via keyring:// URIs; the actual secrets are stored
// separately via storeSecretAndWriteConfig.
func GenerateConfigYAML(result initResult) (string, error) {
	p := result.Provider
	keyRef := secrets.ProviderKeyURI(p.Name)

	cfg := generatedConfig{
		Server: generatedServer{Listen: "127.0.0.1:8420"},
		Storage: generatedStorage{
			DataDir: "~/.reel",
			Videos:  "sqlite",
			Index:   generatedIndex{Backend: "sqlite", Dimensions: p.Dimensions},
		},
		Providers: map[string]generatedProvider{p.Name: {APIKey: keyRef}},
		Models: generatedModels{
			Describer:   p.Describer,
			Embedder:    p.Embedder,
			Synthesizer: p.Synthesizer,
			Transcriber: p.Transcriber,
		},
		Ingest: generatedIngest{AudioEnabled: p.Transcriber != ""},
	}
	// Whisper shares the OpenAI key.
	if strings.HasPrefix(p.Transcriber, "whisper/") {
		cfg.Providers["whisper"] = generatedProvider{APIKey: keyRef}
	}

	var buf bytes.Buffer
	buf.WriteString(generatedHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return "", reelerr.Errorf(reelerr.CodeCLISetupFailure, "encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", reelerr.Errorf(reelerr.CodeCLISetupFailure, "encoding config: %w", err)
	}
	return buf.String(), nil
}

// storeSecretAndWriteConfig saves the API key to the OS keyring and writes
// the config YAML to the default config path.
//
// An existing config is only replaced with forceOverwrite, unless it is the
// untouched default written on first run.
func storeSecretAndWriteConfig(result initResult, store secrets.Store, forceOverwrite bool) (string, error) {
	cfgPath, err := configPathForWrite()
	if err != nil {
		return "", err
	}

	if !forceOverwrite {
		existing, readErr := os.ReadFile(cfgPath)
		if readErr == nil && !bytes.Equal(existing, config.DefaultConfigYAML) {
			return "", reelerr.Errorf(reelerr.CodeConfigAlreadyExists,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	// NOTE: the key is not rolled back if the config write below fails; a
	// re-run overwrites it.
	if err := store.Store(secrets.ServiceName, secrets.ProviderKeyName(result.Provider.Name), result.APIKey); err != nil {
		return "", reelerr.Errorf(reelerr.CodeSecretStoreFailure, "storing %s API key: %w", result.Provider.Name, err)
	}

	content, err := GenerateConfigYAML(result)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", reelerr.Errorf(reelerr.CodeConfigLoadReadFailure, "creating config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		return "", reelerr.Errorf(reelerr.CodeConfigLoadReadFailure, "writing config to %s: %w", cfgPath, err)
	}

	return cfgPath, nil
}

// configPathForWrite returns the config path init writes to.
// Exposed as a variable so tests can override it.
var configPathForWrite = config.DefaultConfigPath

// --- Cobra command ---

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Run an interactive wizard that picks a model provider, checks its API key
and writes ~/.config/reel/reel.yaml with matching describer, embedder,
synthesizer and index dimensions.

The API key is stored in the OS keyring and referenced via a keyring://
URI in the config file. No secrets are written in plain text.`,
		RunE: runInit,
	}

	cmd.Flags().Bool("force", false, "Overwrite existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"reel init requires an interactive terminal.\n"+
				"To configure reel non-interactively, edit ~/.config/reel/reel.yaml and use `reel secret set`.")
		return reelerr.New(reelerr.CodeCLISetupFailure, "reel init: not an interactive terminal")
	}

	forceOverwrite, _ := cmd.Flags().GetBool("force")

	m := newInitModel(secretStoreFactory())
	m.forceOverwrite = forceOverwrite

	finalModel, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return reelerr.Errorf(reelerr.CodeCLISetupFailure, "init wizard error: %w", err)
	}

	fm, ok := finalModel.(initModel)
	if !ok {
		return reelerr.New(reelerr.CodeCLISetupFailure, "unexpected model type after wizard")
	}
	if fm.errFinal != nil {
		return reelerr.Errorf(reelerr.CodeCLISetupFailure, "init failed: %w", fm.errFinal)
	}
	if fm.step == stepDone {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", fm.configPath)
	}
	return nil
}
