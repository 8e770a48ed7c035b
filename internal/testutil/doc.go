// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing profiles, messages and scenarios,
// and a scripted decision strategy with fixed outputs, forced delays and
// forced errors. Not intended for production usage.
package testutil
