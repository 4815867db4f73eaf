// Package negotiation holds the domain model of a multi-issue negotiation:
// private scoresheets, selections over a shared agenda, and the parties that
// hold them. It knows nothing about how agreement is reached.
package negotiation
