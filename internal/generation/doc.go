// Package generation defines the contract between the engine and the remote
// course generation service. The service expands outline nodes, creates
// nodes, streams node content and answers questions; everything else in the
// application depends on the Service interface rather than on a concrete
// transport.
//
// Two implementations exist: platform/courseapi talks to the course service
// over HTTP, and platform/gemini produces the same results by prompting a
// Gemini model directly.
package generation
