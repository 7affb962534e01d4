// Package document turns raw user input into the document the rendering backend expects.
//
// The substitution table and the template are plain values built by LoadTable and LoadTemplate
// and injected into a Builder; nothing here is global.
package document
