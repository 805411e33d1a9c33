// Package cmd provides the command-line interface for helpdeck.
//
// # Available Commands
//
//   - serve: Serve help menus over HTTP and reload on content changes
//   - render: Render the full menu or a search result to a file
//   - search: Look a keyword up without rendering
//   - categories: List the configured categories
//   - ask: Route a chat line the way the bot would
//   - validate: Check the configuration and the content file
//   - init: Write a starter content file and configuration
//   - version: Show version information
//
// # Command Examples
//
//	// Start the server with the content file watched
//	helpdeck serve --port 8080
//
//	// Render the menu to a PNG
//	helpdeck render -o menu.png
//
//	// Render a search result
//	helpdeck render --query 运势 -o result.png
//
//	// Try a chat line
//	helpdeck ask "帮助 签到"
//
// # Configuration Integration
//
// Commands respect configuration from multiple sources in order of precedence:
//
//  1. Command-line flags (highest priority)
//  2. Environment variables (HELPDECK_*)
//  3. Configuration file (.helpdeck.yml)
//  4. Default values (lowest priority)
package cmd
