// Package manifest loads, validates and encodes build manifests.
//
// A manifest declares a project, settings shared by every build and a set of
// platform overlays. It can be written as YAML (or JSON), TOML or HCL. Every
// format is first decoded into a generic tree which a single strict decoder
// turns into a Manifest, so validation behaves the same for all of them:
//
//	project: pcre2
//	common:
//	  archs: [x64]
//	  options:
//	    - [PCRE2_BUILD_PCRE2_16, true]
//	  libraries:
//	    pcre2-8-static: {name: pcre2-8}
//	  buildOutDir: ../libs
//	platforms:
//	  windows: {windows: {}}
//	  linux: {}
package manifest
