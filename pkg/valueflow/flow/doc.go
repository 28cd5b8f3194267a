/*
Package flow provides the read-only REA flow graph model.

# Overview

A flow graph is made of economic resources, the economic events that create,
move or use them, and the processes that turn input events into new resources.
Agents record those events within a context agent (a project or cooperative).

	work/use/consume/cite         out
	  event ──────────────▶ process ─────▶ resource
	                                         │
	                       consume/use/cite  ▼
	                                      process ...

The graph may contain cycles: a resource can be an input to a process that
indirectly produced it. Traversals over the graph therefore carry a Traversal,
built fresh per top-level call, whose visited set is keyed by process identity.

# Relationships

Event relationships form a closed set (see Relationship). Code that switches on
a relationship handles every member and treats anything else as a
configuration error.

# Storage

The model is read through the Reader interface. Results are point-in-time
snapshots; the engine never mutates entities it reads. Computed values are
returned as traversal results and committed through a separate writer.
*/
package flow
