package host

// ScriptFirst wraps another enquirer and reserves a set of package prefixes
// for script modules. Names under a reserved prefix are never host packages,
// which resolves collisions between script packages and host packages that
// share a name. All other queries go to the delegate.
type ScriptFirst struct {
	delegate Enquirer
	reserved []string
}

// NewScriptFirst creates an enquirer that reserves scriptPackages.
func NewScriptFirst(delegate Enquirer, scriptPackages ...string) *ScriptFirst {
	reserved := make([]string, 0, len(scriptPackages))
	for _, p := range scriptPackages {
		if p != "" {
			reserved = append(reserved, p)
		}
	}
	return &ScriptFirst{delegate: delegate, reserved: reserved}
}

func (s *ScriptFirst) IsJavaPackage(name string) bool {
	for _, p := range s.reserved {
		if Covers(p, name) {
			return false
		}
	}
	return s.delegate.IsJavaPackage(name)
}

func (s *ScriptFirst) SubPackages(pkg string) ([]string, error) {
	return s.delegate.SubPackages(pkg)
}

func (s *ScriptFirst) ClassNames(pkg string) ([]string, error) {
	return s.delegate.ClassNames(pkg)
}

func (s *ScriptFirst) SupportsPackageImport() bool {
	return s.delegate.SupportsPackageImport()
}
