package version

// Version is the release version stamped into --version output and the
// update check. Keep in sync with the release tag.
const Version = "1.2.0"
