// Package model defines the provider-agnostic abstractions for calling
// language models from decision strategies and context compaction.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so higher layers remain decoupled from vendor SDKs.
package model
