package replayfuzz

// Version is stamped at build time with -ldflags "-X github.com/aretw0/replayfuzz.Version=...".
var Version = "dev"
