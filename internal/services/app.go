package services

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/danmuck/rcpctl/internal/auth"
	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/tools"
	"github.com/rs/zerolog/log"
)

const (
	appPrefix     = "app:"
	defaultPrefix = "default:"
)

var (
	ErrUnknownApplication = errors.New("services: unknown application")
	ErrCustomAppsDisabled = errors.New("services: custom application paths disabled")
	ErrAppPermission      = errors.New("services: application permission denied")
)

// Application is one configured launch target.
type Application struct {
	ID                  string
	Name                string
	ExecutablePath      string
	Args                []string
	WorkingDir          string
	Env                 map[string]string
	RequiredPermissions []string
}

// Catalog is the server's application registry.
type Catalog struct {
	Applications map[string]Application
	AllowCustom  bool
	AllowDefault bool
	WorkingDir   string
}

func DefaultCatalog() Catalog {
	return Catalog{
		Applications: map[string]Application{},
		AllowDefault: true,
	}
}

// Lookup finds a configured application by id.
func (c Catalog) Lookup(id string) (Application, bool) {
	app, ok := c.Applications[strings.TrimSpace(id)]
	return app, ok
}

// App handles LaunchApp requests and acknowledges each successful launch.
type App struct {
	lifecycle
	out         outbox
	catalog     Catalog
	launcher    tools.Launcher
	permissions []string
}

func NewApp(d Deps) *App {
	launcher := d.Launcher
	if launcher == nil {
		launcher = tools.ExecLauncher{}
	}
	catalog := d.Catalog
	if catalog.Applications == nil {
		catalog.Applications = map[string]Application{}
	}
	return &App{
		lifecycle:   lifecycle{name: protocol.ServiceApp},
		out:         newOutbox(100),
		catalog:     catalog,
		launcher:    launcher,
		permissions: slices.Clone(d.Permissions),
	}
}

func (a *App) Start() error {
	if err := a.start(); err != nil {
		return err
	}
	log.Info().Int("applications", len(a.catalog.Applications)).Msg("services.app started")
	return nil
}

func (a *App) Stop() error {
	if err := a.stop(); err != nil {
		return err
	}
	log.Info().Msg("services.app stopped")
	return nil
}

func (a *App) ProcessFrame(f frame.Frame) error {
	if f.Command() != protocol.CmdLaunchApp {
		return a.unsupported(f)
	}
	if err := a.requireRunning(); err != nil {
		return err
	}
	cmd, err := schema.DecodeLaunchAppCommand(f.Payload)
	if err != nil {
		return err
	}
	spec, pid, err := a.launch(cmd)
	if err != nil {
		log.Warn().Err(err).Str("application", cmd.ApplicationPath).Msg("services.app launch failed")
		return err
	}
	log.Info().
		Str("application", cmd.ApplicationPath).
		Str("command", spec.String()).
		Int("pid", pid).
		Msg("services.app launched")
	return a.out.push(frame.New(protocol.CmdAck, []byte(cmd.ApplicationPath)))
}

func (a *App) PollFrame() (frame.Frame, bool) {
	return a.out.poll()
}

func (a *App) launch(cmd schema.LaunchAppCommand) (tools.LaunchSpec, int, error) {
	path := strings.TrimSpace(cmd.ApplicationPath)
	var extra []string
	if cmd.Args != nil {
		extra = schema.SplitArgs(*cmd.Args)
	}

	switch {
	case strings.HasPrefix(path, appPrefix):
		id := strings.TrimPrefix(path, appPrefix)
		app, ok := a.catalog.Lookup(id)
		if !ok {
			return tools.LaunchSpec{}, 0, fmt.Errorf("%w: %q", ErrUnknownApplication, id)
		}
		for _, perm := range app.RequiredPermissions {
			if !auth.HasPermission(a.permissions, perm) {
				return tools.LaunchSpec{}, 0, fmt.Errorf("%w: %s requires %q", ErrAppPermission, id, perm)
			}
		}
		spec := tools.LaunchSpec{
			Path: app.ExecutablePath,
			Args: append(slices.Clone(app.Args), extra...),
			Dir:  firstNonEmpty(app.WorkingDir, a.catalog.WorkingDir),
			Env:  app.Env,
		}
		pid, err := a.launcher.Launch(spec)
		return spec, pid, err

	case strings.HasPrefix(path, defaultPrefix):
		if !a.catalog.AllowDefault {
			return tools.LaunchSpec{}, 0, fmt.Errorf("%w: %q", ErrUnknownApplication, path)
		}
		return tools.LaunchDefault(a.launcher, strings.TrimPrefix(path, defaultPrefix))

	default:
		if !a.catalog.AllowCustom {
			return tools.LaunchSpec{}, 0, fmt.Errorf("%w: %q", ErrCustomAppsDisabled, path)
		}
		spec := tools.LaunchSpec{Path: path, Args: extra, Dir: a.catalog.WorkingDir}
		pid, err := a.launcher.Launch(spec)
		return spec, pid, err
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
