// Package domain contains the core entities of course generation: the node
// tree that makes up a course and the helpers used to copy, search and
// reshape it. It is independent of any transport, storage or scheduling
// mechanism.
package domain
