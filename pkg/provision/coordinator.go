package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/terrapool/pkg/events"
	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/metrics"
	"github.com/cuemby/terrapool/pkg/runner"
	"github.com/cuemby/terrapool/pkg/types"
	"github.com/cuemby/terrapool/pkg/workspace"
)

// Variables handed to every terraform configuration
const (
	VarURL          = "terrapool_url"
	VarWebsocket    = "terrapool_websocket"
	VarAgentName    = "terrapool_agent_name"
	VarAgentSecret  = "terrapool_agent_secret"
	VarAgentWorkdir = "terrapool_agent_workdir"
	usernameSuffix  = "_usr"
	passwordSuffix  = "_pwd"
)

// terraform sees a non-interactive automation run
var terraformEnv = []string{"TF_IN_AUTOMATION=1", "TF_INPUT=0"}

// Installations looks up terraform installations by name
type Installations interface {
	Installation(name string) (*types.Installation, bool)
}

// CredentialSource resolves stored credentials. Ids that do not exist are
// left out of the result.
type CredentialSource interface {
	Credentials(ctx context.Context, ids []string) ([]*types.Credential, error)
}

// SecretSource returns the connection secret an agent presents when it
// connects back
type SecretSource interface {
	AgentSecret(name string) string
}

// Config holds the collaborators of a Coordinator
type Config struct {
	RootDir       string
	CallbackURL   string
	Installations Installations
	Credentials   CredentialSource
	Secrets       SecretSource
	Broker        *events.Broker

	// ApplyTimeout replaces the pool's apply bound when positive
	ApplyTimeout time.Duration
}

// Coordinator runs the terraform lifecycle of agents: init, get and apply
// to create one, apply -destroy to tear it down. A failed apply is always
// followed by a destroy.
type Coordinator struct {
	rootDir       string
	callbackURL   string
	installations Installations
	credentials   CredentialSource
	secrets       SecretSource
	broker        *events.Broker
	applyTimeout  time.Duration
}

// NewCoordinator creates a coordinator
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		rootDir:       cfg.RootDir,
		callbackURL:   cfg.CallbackURL,
		installations: cfg.Installations,
		credentials:   cfg.Credentials,
		secrets:       cfg.Secrets,
		broker:        cfg.Broker,
		applyTimeout:  cfg.ApplyTimeout,
	}
}

// Provision creates the agent name from tmpl
func (c *Coordinator) Provision(ctx context.Context, pool *types.Pool, tmpl *types.Template, name string) (*Agent, error) {
	return c.ProvisionAttempt(ctx, pool, tmpl, NewAttempt(name, pool.Name, tmpl.Name))
}

// ProvisionAttempt creates the agent of attempt, moving attempt through its
// statuses. On success the returned Agent owns the workspace; on failure the
// workspace is already deleted.
func (c *Coordinator) ProvisionAttempt(ctx context.Context, pool *types.Pool, tmpl *types.Template, attempt *Attempt) (agent *Agent, err error) {
	name := attempt.Name
	logger := log.WithAgent("provision", name)
	logger.Info().Str("pool", pool.Name).Str("template", tmpl.Name).Msg("Provisioning agent")

	c.publish(attempt, events.EventAttemptStarted, "")
	defer func() {
		if err != nil {
			c.transition(attempt, types.AttemptFailed)
			logger.Error().Err(err).Msg("Provisioning failed")
			c.publish(attempt, events.EventAttemptFailed, err.Error())
		}
	}()

	executable, err := c.executable(tmpl.Installation)
	if err != nil {
		return nil, err
	}

	vars, err := c.variables(ctx, tmpl, name)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.Create(c.rootDir, name, tmpl.Config, vars)
	if err != nil {
		return nil, err
	}
	ws.Executable = executable

	owned := true
	defer func() {
		if owned {
			if cerr := ws.Close(); cerr != nil {
				logger.Warn().Err(cerr).Msg("Workspace was not fully deleted")
			}
		}
	}()

	r := runner.New(executable)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.transition(attempt, types.AttemptInitializing)
	if err := c.init(r, ws, name); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.transition(attempt, types.AttemptFetching)
	if err := c.get(r, ws, name); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.transition(attempt, types.AttemptApplying)
	if err := c.apply(r, pool, ws, name); err != nil {
		c.transition(attempt, types.AttemptDestroying)
		logger.Warn().Err(err).Msg("Apply failed, destroying partially created resources")

		failure := &ApplyFailedError{Name: name, Err: err}
		if terr := c.Destroy(context.WithoutCancel(ctx), pool, ws, name); terr != nil {
			failure.Teardown = terr
		}
		return nil, failure
	}

	c.transition(attempt, types.AttemptSucceeded)
	agent = &Agent{
		Name:        name,
		Pool:        pool,
		Template:    tmpl,
		Workspace:   ws,
		CreatedAt:   time.Now(),
		coordinator: c,
	}
	owned = false

	logger.Info().Msg("Agent provisioned")
	c.publish(attempt, events.EventAttemptSucceeded, "")
	return agent, nil
}

// Destroy runs terraform apply -destroy against the workspace state. It has
// no time bound and leaves the workspace in place.
func (c *Coordinator) Destroy(ctx context.Context, pool *types.Pool, ws *workspace.Workspace, name string) error {
	logger := log.WithAgent("provision", name)
	logger.Info().Msg("Destroying agent resources")

	err := c.withVariables(ws, func() error {
		args, err := stateArgs(ws, "apply", "-no-color", "-destroy", "-input=false", "-auto-approve")
		if err != nil {
			return err
		}
		_, err = runner.Run(runner.New(ws.Executable), command(ws, name, args), runner.BlockUntilExit("terraform destroy"))
		return err
	})
	if err != nil {
		metrics.TeardownFailures.Inc()
		return fmt.Errorf("%w for %s: %w", ErrTeardownFailed, name, err)
	}

	logger.Info().Msg("Agent resources destroyed")
	return nil
}

// Reattach rebuilds the Agent of an already provisioned workspace, used to
// recover agents after a restart
func (c *Coordinator) Reattach(ctx context.Context, pool *types.Pool, tmpl *types.Template, name, dir string) (*Agent, error) {
	executable, err := c.executable(tmpl.Installation)
	if err != nil {
		return nil, err
	}

	vars, err := c.variables(ctx, tmpl, name)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.Open(dir, vars)
	if err != nil {
		return nil, err
	}
	ws.Executable = executable

	return &Agent{
		Name:        name,
		Pool:        pool,
		Template:    tmpl,
		Workspace:   ws,
		CreatedAt:   time.Now(),
		coordinator: c,
	}, nil
}

func (c *Coordinator) executable(installation string) (string, error) {
	if c.installations == nil {
		return "", fmt.Errorf("%w: %s", ErrInstallationNotFound, installation)
	}
	inst, ok := c.installations.Installation(installation)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInstallationNotFound, installation)
	}
	path, err := inst.Executable()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInstallationNotFound, err)
	}
	return path, nil
}

func (c *Coordinator) variables(ctx context.Context, tmpl *types.Template, name string) (*workspace.Variables, error) {
	secret := ""
	if c.secrets != nil {
		secret = c.secrets.AgentSecret(name)
	}

	vars := workspace.NewVariables()
	vars.Set(VarURL, c.callbackURL)
	vars.Set(VarWebsocket, strconv.FormatBool(tmpl.UseWebsocket))
	vars.Set(VarAgentName, name)
	vars.Set(VarAgentSecret, secret)
	vars.Set(VarAgentWorkdir, tmpl.WorkspacePath)

	if len(tmpl.Credentials) == 0 {
		return vars, nil
	}

	ids := make([]string, 0, len(tmpl.Credentials))
	for _, b := range tmpl.Credentials {
		ids = append(ids, b.CredentialsID)
	}

	var found []*types.Credential
	if c.credentials != nil {
		var err error
		found, err = c.credentials.Credentials(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMissingCredentials, err)
		}
	}

	byID := make(map[string]*types.Credential, len(found))
	for _, cred := range found {
		switch cred.Kind {
		case types.CredentialUsernamePassword, types.CredentialSecret:
			byID[cred.ID] = cred
		}
	}

	var missing []string
	for _, b := range tmpl.Credentials {
		if _, ok := byID[b.CredentialsID]; !ok {
			missing = append(missing, b.CredentialsID)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: expected %v, missing %v", ErrMissingCredentials, ids, missing)
	}

	for _, b := range tmpl.Credentials {
		cred := byID[b.CredentialsID]
		switch cred.Kind {
		case types.CredentialUsernamePassword:
			vars.Set(b.Variable+usernameSuffix, cred.Username)
			vars.Set(b.Variable+passwordSuffix, cred.Password)
		case types.CredentialSecret:
			vars.Set(b.Variable, cred.Secret)
		}
	}
	return vars, nil
}

func (c *Coordinator) init(r *runner.Runner, ws *workspace.Workspace, name string) error {
	_, err := runner.Run(r, command(ws, name, []string{"init", "-no-color", "-input=false"}), runner.BlockUntilExit("terraform init"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	return nil
}

func (c *Coordinator) get(r *runner.Runner, ws *workspace.Workspace, name string) error {
	_, err := runner.Run(r, command(ws, name, []string{"get", "-no-color"}), runner.BlockUntilExit("terraform get"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return nil
}

func (c *Coordinator) apply(r *runner.Runner, pool *types.Pool, ws *workspace.Workspace, name string) error {
	return c.withVariables(ws, func() error {
		args, err := stateArgs(ws, "apply", "-no-color", "-input=false", "-auto-approve")
		if err != nil {
			return err
		}

		cmd := command(ws, name, args)
		timeout := pool.Timeout()
		if c.applyTimeout > 0 {
			timeout = c.applyTimeout
		}
		if timeout > 0 {
			_, err = runner.Run(r, cmd, runner.BoundedWait("terraform apply", timeout))
		} else {
			_, err = runner.Run(r, cmd, runner.BlockUntilExit("terraform apply"))
		}
		return err
	})
}

// withVariables keeps the variables file on disk for the duration of fn only
func (c *Coordinator) withVariables(ws *workspace.Workspace, fn func() error) error {
	release, err := ws.WriteVariables()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil {
			logger := log.WithComponent("provision")
			logger.Error().Err(rerr).Str("file", ws.VariablesFile).Msg("Failed to delete variables file")
		}
	}()
	return fn()
}

func stateArgs(ws *workspace.Workspace, args ...string) ([]string, error) {
	state, err := filepath.Abs(ws.StateFile)
	if err != nil {
		return nil, err
	}
	varFile, err := filepath.Abs(ws.VariablesFile)
	if err != nil {
		return nil, err
	}
	return append(args, "-state="+state, "-var-file="+varFile), nil
}

func command(ws *workspace.Workspace, name string, args []string) runner.Command {
	return runner.Command{
		Args:      args,
		Dir:       ws.Dir,
		Env:       terraformEnv,
		StripANSI: true,
		Agent:     name,
	}
}

func (c *Coordinator) transition(attempt *Attempt, status types.AttemptStatus) {
	prev := attempt.setStatus(status)
	logger := log.WithAgent("provision", attempt.Name)
	logger.Debug().
		Str("from", string(prev)).
		Str("to", string(status)).
		Msg("Attempt status changed")
	c.publish(attempt, events.EventAttemptStatus, string(status))
}

func (c *Coordinator) publish(attempt *Attempt, typ events.EventType, msg string) {
	c.broker.Publish(&events.Event{
		Type:     typ,
		Agent:    attempt.Name,
		Pool:     attempt.Pool,
		Template: attempt.Template,
		Message:  msg,
	})
}
