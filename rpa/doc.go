/*
Package rpa defines the NanoRPA data model: bots, workflows, steps, tasks
and the execution context shared between the engine and step handlers.

# Bots

A bot is a named automation unit scoped to a single industry. Bots own
zero or more workflows by id and accumulate execution metrics. Bots are
never deleted; they are soft-disabled by changing their status.

# Workflows and steps

A workflow is an ordered list of steps. Step order is execution order.
Each step carries a type that selects its handler. Steps of the
provider-backed types (browser_automation, web_scraping and
form_filling) are delegated to an external automation backend and
carry a provider integration block describing what to send there.

A workflow's compliance settings are stamped once when it is first
deployed and never change afterwards.

# Tasks

A task is a single request to execute a workflow against a bot. Its
status only ever moves forward:

	queued -> running -> completed
	queued -> running -> failed

Terminal tasks never change.
*/
package rpa
