// Package chat is a minimal client for OpenAI-compatible Chat Completions
// backends. It covers exactly what the conversation driver needs: a single
// non-streaming completion call with tool declarations and multimodal user
// content, plus typed error mapping for HTTP and network failures.
package chat
