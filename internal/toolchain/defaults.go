package toolchain

import (
	"path/filepath"

	"github.com/vk/xbuildgo/internal/manifest"
)

const (
	visualStudio  = "Visual Studio 17 2022"
	unixMakefiles = "Unix Makefiles"
	ninja         = "Ninja"
	xcode         = "Xcode"

	// DefaultAndroidPlatform is the minimum API level used when
	// ANDROID_PLATFORM is not set.
	DefaultAndroidPlatform = "android-21"
)

var cmakeTool = ToolRequirement{Name: "cmake", Purpose: "CMake build system"}

// androidABIs maps manifest architectures onto NDK ABI names.
var androidABIs = map[manifest.Arch]string{
	manifest.ArchX86:      "x86",
	manifest.ArchX86_64:   "x86_64",
	manifest.ArchX64:      "x86_64",
	manifest.ArchARMv7a:   "armeabi-v7a",
	manifest.ArchARM:      "armeabi-v7a",
	manifest.ArchARM64v8a: "arm64-v8a",
	manifest.ArchARM64:    "arm64-v8a",
}

// DefaultRegistry builds the stock toolchain table. getenv supplies
// ANDROID_NDK_HOME (or ANDROID_NDK_ROOT) and ANDROID_PLATFORM; Android
// targets are only registered when an NDK is configured.
func DefaultRegistry(getenv func(string) string) *Registry {
	r := NewRegistry()
	registerWindows(r)
	registerLinux(r)
	registerMacOS(r)

	ndk := getenv("ANDROID_NDK_HOME")
	if ndk == "" {
		ndk = getenv("ANDROID_NDK_ROOT")
	}
	if ndk != "" {
		api := getenv("ANDROID_PLATFORM")
		if api == "" {
			api = DefaultAndroidPlatform
		}
		for _, host := range []manifest.Platform{manifest.PlatformWindows, manifest.PlatformLinux, manifest.PlatformMacOS} {
			registerAndroid(r, host, ndk, api)
		}
	}
	return r
}

func registerWindows(r *Registry) {
	msvc := func(platform string) Toolchain {
		return Toolchain{
			ID:          "msvc",
			Generator:   visualStudio,
			Platform:    platform,
			MultiConfig: true,
			LibSuffix:   ".lib",
			Tools:       []ToolRequirement{cmakeTool},
		}
	}
	host := manifest.PlatformWindows
	r.Register(Key{host, manifest.VariantWindows, manifest.ArchX86}, msvc("Win32"))
	r.Register(Key{host, manifest.VariantWindows, manifest.ArchX64}, msvc("x64"))
	r.Register(Key{host, manifest.VariantWindows, manifest.ArchX86_64}, msvc("x64"))
	r.Register(Key{host, manifest.VariantWindows, manifest.ArchARM64}, msvc("ARM64"))
}

func unixTools(compiler string) []ToolRequirement {
	return []ToolRequirement{
		cmakeTool,
		{Name: "make", Alternatives: []string{"gmake"}, Purpose: "Makefile generator backend"},
		{Name: compiler, Purpose: "C compiler"},
	}
}

func registerLinux(r *Registry) {
	host := manifest.PlatformLinux
	native := Toolchain{
		ID:        "gcc",
		Generator: unixMakefiles,
		LibPrefix: "lib",
		LibSuffix: ".a",
		Tools:     unixTools("gcc"),
	}
	r.Register(Key{host, manifest.VariantLinux, manifest.ArchX64}, native)
	r.Register(Key{host, manifest.VariantLinux, manifest.ArchX86_64}, native)

	x86 := native
	x86.CFlags = []string{"-m32"}
	r.Register(Key{host, manifest.VariantLinux, manifest.ArchX86}, x86)

	cross := func(triple, processor string) Toolchain {
		tc := native
		tc.CacheEntries = []manifest.Variable{
			{Name: "CMAKE_SYSTEM_NAME", Value: "Linux"},
			{Name: "CMAKE_SYSTEM_PROCESSOR", Value: processor},
			{Name: "CMAKE_C_COMPILER", Value: triple + "-gcc"},
			{Name: "CMAKE_CXX_COMPILER", Value: triple + "-g++"},
		}
		tc.Tools = unixTools(triple + "-gcc")
		return tc
	}
	r.Register(Key{host, manifest.VariantLinux, manifest.ArchARM64}, cross("aarch64-linux-gnu", "aarch64"))
	r.Register(Key{host, manifest.VariantLinux, manifest.ArchARM}, cross("arm-linux-gnueabihf", "arm"))
}

func registerMacOS(r *Registry) {
	host := manifest.PlatformMacOS
	clang := func(osxArch string) Toolchain {
		return Toolchain{
			ID:           "appleclang",
			Generator:    unixMakefiles,
			CacheEntries: []manifest.Variable{{Name: "CMAKE_OSX_ARCHITECTURES", Value: osxArch}},
			LibPrefix:    "lib",
			LibSuffix:    ".a",
			Tools:        unixTools("clang"),
		}
	}
	r.Register(Key{host, manifest.VariantMacOS, manifest.ArchX64}, clang("x86_64"))
	r.Register(Key{host, manifest.VariantMacOS, manifest.ArchX86_64}, clang("x86_64"))
	r.Register(Key{host, manifest.VariantMacOS, manifest.ArchARM64}, clang("arm64"))

	ios := func(osxArch, sysroot string) Toolchain {
		return Toolchain{
			ID:        "xcode",
			Generator: xcode,
			CacheEntries: []manifest.Variable{
				{Name: "CMAKE_SYSTEM_NAME", Value: "iOS"},
				{Name: "CMAKE_OSX_ARCHITECTURES", Value: osxArch},
				{Name: "CMAKE_OSX_SYSROOT", Value: sysroot},
			},
			MultiConfig: true,
			LibPrefix:   "lib",
			LibSuffix:   ".a",
			Tools:       []ToolRequirement{cmakeTool, {Name: "xcodebuild", Purpose: "Xcode build tool"}},
		}
	}
	r.Register(Key{host, manifest.VariantIOS, manifest.ArchARM64}, ios("arm64", "iphoneos"))
	r.Register(Key{host, manifest.VariantIOS, manifest.ArchX86_64}, ios("x86_64", "iphonesimulator"))
}

func registerAndroid(r *Registry, host manifest.Platform, ndk, api string) {
	generator, tools := unixMakefiles, []ToolRequirement{cmakeTool, {Name: "make", Alternatives: []string{"gmake"}}}
	if host == manifest.PlatformWindows {
		generator, tools = ninja, []ToolRequirement{cmakeTool, {Name: "ninja", Purpose: "Ninja build tool"}}
	}
	for arch, abi := range androidABIs {
		r.Register(Key{host, manifest.VariantAndroid, arch}, Toolchain{
			ID:        "ndk-clang",
			Generator: generator,
			CacheEntries: []manifest.Variable{
				{Name: "CMAKE_TOOLCHAIN_FILE", Value: filepath.Join(ndk, "build", "cmake", "android.toolchain.cmake")},
				{Name: "ANDROID_ABI", Value: abi},
				{Name: "ANDROID_PLATFORM", Value: api},
			},
			Env:       map[string]string{"ANDROID_NDK_HOME": ndk},
			LibPrefix: "lib",
			LibSuffix: ".a",
			Tools:     tools,
		})
	}
}
