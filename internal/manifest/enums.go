package manifest

import "strings"

// Platform is the host platform a manifest section applies to.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// platformAliases maps the node-style host names used by older manifests.
var platformAliases = map[string]Platform{
	"win32":  PlatformWindows,
	"darwin": PlatformMacOS,
}

// Variant is the OS a target is actually built for.
type Variant string

const (
	VariantWindows Variant = "windows"
	VariantLinux   Variant = "linux"
	VariantMacOS   Variant = "macos"
	VariantAndroid Variant = "android"
	VariantIOS     Variant = "ios"
)

// allowedVariants lists the variants each platform may declare.
var allowedVariants = map[Platform][]Variant{
	PlatformWindows: {VariantWindows, VariantAndroid},
	PlatformLinux:   {VariantLinux, VariantAndroid},
	PlatformMacOS:   {VariantMacOS, VariantIOS, VariantAndroid},
	PlatformAndroid: {VariantAndroid},
	PlatformIOS:     {VariantIOS},
}

// Arch is a target architecture name as written in manifests.
type Arch string

const (
	ArchX86      Arch = "x86"
	ArchX64      Arch = "x64"
	ArchARM      Arch = "arm"
	ArchARM64    Arch = "arm64"
	ArchX86_64   Arch = "x86_64"
	ArchARMv7a   Arch = "armeabi-v7a"
	ArchARM64v8a Arch = "arm64-v8a"
)

var knownArchs = map[Arch]bool{
	ArchX86:      true,
	ArchX64:      true,
	ArchARM:      true,
	ArchARM64:    true,
	ArchX86_64:   true,
	ArchARMv7a:   true,
	ArchARM64v8a: true,
}

// ParsePlatform resolves a platform key, accepting the win32 and darwin aliases.
func ParsePlatform(s string) (Platform, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if p, ok := platformAliases[key]; ok {
		return p, true
	}
	p := Platform(key)
	_, ok := allowedVariants[p]
	return p, ok
}

// ParseVariant resolves a variant key.
func ParseVariant(s string) (Variant, bool) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case VariantWindows, VariantLinux, VariantMacOS, VariantAndroid, VariantIOS:
		return v, true
	}
	return "", false
}

// ParseArch resolves an architecture name.
func ParseArch(s string) (Arch, bool) {
	a := Arch(strings.TrimSpace(s))
	return a, knownArchs[a]
}

// AllowsVariant reports whether v may appear under platform p.
func (p Platform) AllowsVariant(v Variant) bool {
	for _, allowed := range allowedVariants[p] {
		if allowed == v {
			return true
		}
	}
	return false
}

// DefaultVariant is the variant activated by a bare platform overlay.
func (p Platform) DefaultVariant() Variant {
	return Variant(p)
}

// HostPlatform maps a GOOS value to the platform it hosts.
func HostPlatform(goos string) (Platform, bool) {
	switch goos {
	case "windows":
		return PlatformWindows, true
	case "linux":
		return PlatformLinux, true
	case "darwin":
		return PlatformMacOS, true
	}
	return "", false
}
