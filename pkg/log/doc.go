/*
Package log provides structured logging for terrapool using zerolog.

The package keeps a single global zerolog.Logger that every other package
writes to, plus small helpers that derive child loggers carrying the fields
operators filter on: component, pool and agent.

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stderr,
	})

Component Loggers:

	schedLog := log.WithPool("scheduler", "aws.small")
	schedLog.Info().Int("planned", 2).Msg("Provisioning agents")

	agentLog := log.WithAgent("terraform", "terrapool-aws-small-1b4e...")
	agentLog.Info().Msg("Creating new agent")

# Terraform Output

Every line printed by a Terraform subprocess is logged at info level with
component=terraform and the agent name, as it arrives. This is the only place
CLI output is observed live; the same lines are kept in memory and attached
to the error if the command fails.

	10:30:01 INF Terraform: Apply complete! Resources: 1 added. agent=terrapool-aws-small-... component=terraform

# Levels

Debug, Info, Warn and Error map directly onto zerolog levels. Anything else
passed to ParseLevel falls back to Info.
*/
package log
