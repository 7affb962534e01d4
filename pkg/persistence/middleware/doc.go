// Package middleware provides KeyStore decorators.
package middleware
