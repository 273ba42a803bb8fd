// ABOUTME: Build version information
// ABOUTME: Version is overridden at link time with -ldflags "-X"
package version

var (
	Version      = "dev"
	Product      = "pcmstream"
	Manufacturer = "Sendspin"
)

// String returns the product and version for log lines and stream properties
func String() string {
	return Product + " " + Version
}
