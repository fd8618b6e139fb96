package runner

import "time"

const (
	// DefaultTimeout bounds a whole harness run.
	DefaultTimeout = 30 * time.Minute

	// DefaultStderrTailBytes is how much of stderr is surfaced on failure.
	DefaultStderrTailBytes = 500

	// Bytes of each stream kept in memory by default. Streaming parsers see
	// all of stdout regardless.
	defaultCaptureBytes = 4 * 1024 * 1024

	// Grace period between cancelling a harness and closing its pipes.
	waitDelay = 5 * time.Second

	// go test
	DefaultGoBinary    = "go"
	TestCommand        = "test"
	JSONFlag           = "-json"
	CountFlag          = "-count"
	RunFlag            = "-run"
	DisableCacheCount  = "1"
	AllPackagesPattern = "./..."
	GoModFile          = "go.mod"

	// maven surefire
	DefaultMavenBinary = "mvn"
	MavenBatchFlag     = "-B"
	MavenTestGoal      = "test"
	MavenTestProperty  = "-Dtest="
	MavenFailIfNoTests = "-Dsurefire.failIfNoSpecifiedTests=false"
	PomFile            = "pom.xml"

	// jest via npx
	DefaultJestBinary = "npx"
	JestCommand       = "jest"
	JestCIFlag        = "--ci"
	JestJSONFlag      = "--json"
	JestNameFlag      = "-t"
	PackageJSONFile   = "package.json"
)

