package main

// General API documentation for swaggo. Generate with `swag init -g cmd/artifactd/docs.go`.
//
// @title           artifactd API
// @version         1.0
// @description     HTTP API for artifact download, verification and memory-bounded lifecycle management.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
