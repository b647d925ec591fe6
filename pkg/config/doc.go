/*
Package config loads the terrapool daemon configuration.

The file is YAML (.yaml, .yml) or TOML (.toml) and holds the server
settings, logging, terraform installations and the pools with their
templates:

	server:
	  listen: 127.0.0.1:8420
	  callbackURL: https://ci.example.com
	  dataDir: /var/lib/terrapool
	installations:
	  - name: terraform-1.9
	    home: /opt/terraform
	pools:
	  - name: aws
	    templates:
	      - name: small
	        labels: linux docker
	        installation: terraform-1.9
	        workspacePath: /home/ci
	        configDirectory: templates/aws-small

Unset pool and template timeouts default to 10 minutes and executors to 1.
An explicit idleTimeoutMinutes of 0 on a single-executor template means the
agent is terminated after its first job. The master key is read from
TERRAPOOL_SECRET_KEY when set, otherwise from server.secretKeyFile.
*/
package config
