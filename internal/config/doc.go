// ABOUTME: Package config loads and validates livechat-gateway YAML configuration
// ABOUTME: Handles env var expansion and duration string parsing

package config
