// Package modeltest builds reference models for tests.
package modeltest

import (
	"fmt"

	"github.com/cellxform/cellxform/pkg/model"
)

// Builder assembles a model and panics on the first error. For test fixtures only.
type Builder struct {
	M *model.Model
}

// NewBuilder creates a builder for an empty model.
func NewBuilder(name string) *Builder {
	return &Builder{M: model.New(name)}
}

// Namespace adds a namespace under parent.
func (b *Builder) Namespace(name, parent string) *Builder {
	must(b.M.AddNamespace(name, parent))
	return b
}

// Var adds a variable. kind may be empty to infer it at Build time.
func (b *Builder) Var(ns, name, units string, pub, priv model.Direction, kind model.Kind, initial ...float64) *model.Variable {
	v := &model.Variable{
		Namespace: ns,
		Name:      name,
		Units:     units,
		Kind:      kind,
		Interface: model.Interface{Public: pub, Private: priv},
	}
	if len(initial) > 0 {
		v.SetInitial(initial[0])
	}
	return must(b.M.AddVariable(v))
}

// Tag attaches a semantic tag to an existing variable.
func (b *Builder) Tag(ns, name, tag string) *Builder {
	v := must(b.M.Lookup(ns, name))
	if err := b.M.SetTag(v, tag); err != nil {
		panic(err)
	}
	return b
}

// Eq adds an algebraic equation.
func (b *Builder) Eq(ns, target string, rhs model.Expr) *Builder {
	must(b.M.AddEquation(&model.Equation{Namespace: ns, Target: target, RHS: rhs}))
	return b
}

// ODE adds a differential equation against bvar.
func (b *Builder) ODE(ns, target, bvar string, rhs model.Expr) *Builder {
	must(b.M.AddEquation(&model.Equation{Namespace: ns, Target: target, BoundVar: bvar, RHS: rhs}))
	return b
}

// Connect wires from ("ns,name") into the Mapped variable to.
func (b *Builder) Connect(from, to string) *Builder {
	f, err := model.ParseRef(from)
	if err != nil {
		panic(err)
	}
	t, err := model.ParseRef(to)
	if err != nil {
		panic(err)
	}
	must(b.M.AddConnection(f, t))
	return b
}

// Build infers remaining kinds, validates and returns the model.
func (b *Builder) Build() *model.Model {
	b.M.InferKinds()
	if err := b.M.Validate(); err != nil {
		panic(fmt.Sprintf("fixture %s is invalid: %v", b.M.Name, err))
	}
	return b.M
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

const (
	none = model.DirectionNone
	in   = model.DirectionIn
	out  = model.DirectionOut
)

var (
	ref = model.Ref
	num = func(v float64) model.Expr { return model.Num(v, "") }
	op  = model.Op
)

func add(a ...model.Expr) model.Expr { return op("+", a...) }
func sub(a, b model.Expr) model.Expr { return op("-", a, b) }
func mul(a ...model.Expr) model.Expr { return op("*", a...) }
func div(a, b model.Expr) model.Expr { return op("/", a, b) }
func neg(a model.Expr) model.Expr    { return op("-", a) }
func exp(a model.Expr) model.Expr    { return op("exp", a) }
func ln(a model.Expr) model.Expr     { return op("ln", a) }
func sqrt(a model.Expr) model.Expr   { return op("sqrt", a) }

// gate returns alpha*(1 - x) - beta*x.
func gate(x, alpha, beta string) model.Expr {
	return sub(mul(ref(alpha), sub(num(1), ref(x))), mul(ref(beta), ref(x)))
}

// rate returns a*exp(b*(V + c)) / (1 + exp(d*(V + c))).
func rate(a, b, c, d float64) model.Expr {
	vc := add(ref("V"), num(c))
	return div(mul(num(a), exp(mul(num(b), vc))), add(num(1), exp(mul(num(d), vc))))
}

// LuoRudy1991 builds a reduced Luo-Rudy 1991 ventricular model. Namespace
// and variable names follow the published CellML encoding.
func LuoRudy1991() *model.Model {
	b := NewBuilder("luo_rudy_1991")

	b.Namespace("environment", "")
	b.Namespace("membrane", "")
	b.Namespace("fast_sodium_current", "")
	b.Namespace("fast_sodium_current_m_gate", "fast_sodium_current")
	b.Namespace("slow_inward_current", "")
	b.Namespace("slow_inward_current_d_gate", "slow_inward_current")
	b.Namespace("slow_inward_current_f_gate", "slow_inward_current")
	b.Namespace("time_dependent_potassium_current", "")
	b.Namespace("time_dependent_potassium_current_X_gate", "time_dependent_potassium_current")
	b.Namespace("time_dependent_potassium_current_Xi_gate", "time_dependent_potassium_current")
	b.Namespace("time_independent_potassium_current", "")
	b.Namespace("time_independent_potassium_current_K1_gate", "time_independent_potassium_current")
	b.Namespace("background_current", "")
	b.Namespace("ionic_concentrations", "")
	b.Namespace("intracellular_calcium_concentration", "")

	for _, u := range []struct{ name, def string }{
		{"ms", "millisecond"},
		{"mV", "millivolt"},
		{"per_ms", "1/millisecond"},
		{"mM", "millimolar"},
		{"uF_per_cm2", "microfarad/centimetre^2"},
		{"mS_per_cm2", "millisiemens/centimetre^2"},
		{"uA_per_cm2", "microampere/centimetre^2"},
		{"joule_per_kilomole_kelvin", "joule/(kilomole*kelvin)"},
		{"coulomb_per_mole", "coulomb/mole"},
		{"mM_per_ms", "millimolar/millisecond"},
	} {
		if err := b.M.AddUnits(u.name, u.def); err != nil {
			panic(err)
		}
	}

	// environment
	b.Var("environment", "time", "ms", out, none, model.KindFree)

	// membrane
	const mem = "membrane"
	b.Var(mem, "V", "mV", out, none, "", -84.3801107371)
	b.Var(mem, "R", "joule_per_kilomole_kelvin", out, none, "", 8314)
	b.Var(mem, "T", "kelvin", out, none, "", 310)
	b.Var(mem, "F", "coulomb_per_mole", out, none, "", 96484.6)
	b.Var(mem, "C", "uF_per_cm2", none, none, "", 1)
	b.Var(mem, "time", "ms", in, none, "")
	b.Var(mem, "FonRT", "per_mV", none, none, "")
	b.Var(mem, "I_stim", "uA_per_cm2", none, none, "")
	b.Var(mem, "stim_amplitude", "uA_per_cm2", none, none, "", -25.5)
	for _, i := range []string{"i_Na", "i_si", "i_K", "i_K1", "i_b"} {
		b.Var(mem, i, "uA_per_cm2", in, none, "")
	}
	b.Connect("environment,time", "membrane,time")
	b.Eq(mem, "FonRT", div(ref("F"), mul(ref("R"), ref("T"))))
	b.Eq(mem, "I_stim", ref("stim_amplitude"))
	b.ODE(mem, "V", "time", mul(
		div(num(-1), ref("C")),
		add(ref("I_stim"), ref("i_Na"), ref("i_si"), ref("i_K"), ref("i_K1"), ref("i_b")),
	))
	b.Tag(mem, "V", "membrane_voltage")
	b.Tag(mem, "C", "membrane_capacitance")
	b.Tag("environment", "time", "time")

	// ionic concentrations
	const ions = "ionic_concentrations"
	b.Var(ions, "Nai", "mM", out, none, "", 18)
	b.Var(ions, "Nao", "mM", out, none, "", 140)
	b.Var(ions, "Ki", "mM", out, none, "", 145)
	b.Var(ions, "Ko", "mM", out, none, "", 5.4)
	b.Tag(ions, "Ko", "extracellular_potassium_concentration")

	// fast sodium current
	const fsc, mgate = "fast_sodium_current", "fast_sodium_current_m_gate"
	b.Var(fsc, "i_Na", "uA_per_cm2", out, none, "")
	b.Var(fsc, "g_Na", "mS_per_cm2", none, none, "", 23)
	b.Var(fsc, "E_Na", "mV", none, none, "")
	b.Var(fsc, "m", "dimensionless", none, in, "")
	b.Var(fsc, "V", "mV", in, out, "")
	b.Var(fsc, "time", "ms", in, out, "")
	for _, c := range []string{"R", "T", "F"} {
		b.Var(fsc, c, "", in, none, "")
	}
	b.Var(fsc, "Nao", "mM", in, none, "")
	b.Var(fsc, "Nai", "mM", in, none, "")
	b.Var(mgate, "m", "dimensionless", out, none, "", 0.0016533)
	b.Var(mgate, "alpha_m", "per_ms", none, none, "")
	b.Var(mgate, "beta_m", "per_ms", none, none, "")
	b.Var(mgate, "V", "mV", in, none, "")
	b.Var(mgate, "time", "ms", in, none, "")
	b.Connect("membrane,V", "fast_sodium_current,V")
	b.Connect("environment,time", "fast_sodium_current,time")
	for _, c := range []string{"R", "T", "F"} {
		b.Connect("membrane,"+c, "fast_sodium_current,"+c)
	}
	b.Connect("ionic_concentrations,Nao", "fast_sodium_current,Nao")
	b.Connect("ionic_concentrations,Nai", "fast_sodium_current,Nai")
	b.Connect("fast_sodium_current_m_gate,m", "fast_sodium_current,m")
	b.Connect("fast_sodium_current,V", "fast_sodium_current_m_gate,V")
	b.Connect("fast_sodium_current,time", "fast_sodium_current_m_gate,time")
	b.Eq(fsc, "E_Na", mul(div(mul(ref("R"), ref("T")), ref("F")), ln(div(ref("Nao"), ref("Nai")))))
	b.Eq(fsc, "i_Na", mul(ref("g_Na"), ref("m"), ref("m"), ref("m"), sub(ref("V"), ref("E_Na"))))
	b.Eq(mgate, "alpha_m", div(
		mul(num(0.32), add(ref("V"), num(47.13))),
		sub(num(1), exp(mul(num(-0.1), add(ref("V"), num(47.13))))),
	))
	b.Eq(mgate, "beta_m", mul(num(0.08), exp(div(neg(ref("V")), num(11)))))
	b.ODE(mgate, "m", "time", gate("m", "alpha_m", "beta_m"))

	// slow inward current
	const sic, dgate, fgate = "slow_inward_current", "slow_inward_current_d_gate", "slow_inward_current_f_gate"
	b.Var(sic, "i_si", "uA_per_cm2", out, none, "")
	b.Var(sic, "E_si", "mV", none, none, "")
	b.Var(sic, "Cai", "mM", in, none, "")
	b.Var(sic, "d", "dimensionless", none, in, "")
	b.Var(sic, "f", "dimensionless", none, in, "")
	b.Var(sic, "V", "mV", in, out, "")
	b.Var(sic, "time", "ms", in, out, "")
	b.Var(dgate, "d", "dimensionless", out, none, "", 0.0030)
	b.Var(dgate, "alpha_d", "per_ms", none, none, "")
	b.Var(dgate, "beta_d", "per_ms", none, none, "")
	b.Var(dgate, "V", "mV", in, none, "")
	b.Var(dgate, "time", "ms", in, none, "")
	b.Var(fgate, "f", "dimensionless", out, none, "", 0.9999)
	b.Var(fgate, "alpha_f", "per_ms", none, none, "")
	b.Var(fgate, "beta_f", "per_ms", none, none, "")
	b.Var(fgate, "V", "mV", in, none, "")
	b.Var(fgate, "time", "ms", in, none, "")
	b.Connect("membrane,V", "slow_inward_current,V")
	b.Connect("environment,time", "slow_inward_current,time")
	b.Connect("slow_inward_current_d_gate,d", "slow_inward_current,d")
	b.Connect("slow_inward_current_f_gate,f", "slow_inward_current,f")
	b.Connect("slow_inward_current,V", "slow_inward_current_d_gate,V")
	b.Connect("slow_inward_current,time", "slow_inward_current_d_gate,time")
	b.Connect("slow_inward_current,V", "slow_inward_current_f_gate,V")
	b.Connect("slow_inward_current,time", "slow_inward_current_f_gate,time")
	b.Eq(sic, "E_si", sub(num(7.7), mul(num(13.0287), ln(ref("Cai")))))
	b.Eq(sic, "i_si", mul(num(0.09), ref("d"), ref("f"), sub(ref("V"), ref("E_si"))))
	b.Eq(dgate, "alpha_d", rate(0.095, -0.01, -5, -0.072))
	b.Eq(dgate, "beta_d", rate(0.07, -0.017, 44, 0.05))
	b.ODE(dgate, "d", "time", gate("d", "alpha_d", "beta_d"))
	b.Eq(fgate, "alpha_f", rate(0.012, -0.008, 28, 0.15))
	b.Eq(fgate, "beta_f", rate(0.0065, -0.02, 30, -0.2))
	b.ODE(fgate, "f", "time", gate("f", "alpha_f", "beta_f"))

	// time dependent potassium current
	const tdpc, xgate, xigate = "time_dependent_potassium_current",
		"time_dependent_potassium_current_X_gate", "time_dependent_potassium_current_Xi_gate"
	b.Var(tdpc, "i_K", "uA_per_cm2", out, none, "")
	b.Var(tdpc, "g_K", "mS_per_cm2", none, none, "")
	b.Var(tdpc, "E_K", "mV", none, none, "")
	b.Var(tdpc, "PR_NaK", "dimensionless", none, none, "", 0.01833)
	b.Var(tdpc, "X", "dimensionless", none, in, "")
	b.Var(tdpc, "Xi", "dimensionless", none, in, "")
	b.Var(tdpc, "V", "mV", in, out, "")
	b.Var(tdpc, "time", "ms", in, out, "")
	for _, c := range []string{"R", "T", "F"} {
		b.Var(tdpc, c, "", in, none, "")
	}
	for _, c := range []string{"Ko", "Ki", "Nao", "Nai"} {
		b.Var(tdpc, c, "mM", in, none, "")
	}
	b.Var(xgate, "X", "dimensionless", out, none, "", 0.0057)
	b.Var(xgate, "alpha_X", "per_ms", none, none, "")
	b.Var(xgate, "beta_X", "per_ms", none, none, "")
	b.Var(xgate, "V", "mV", in, none, "")
	b.Var(xgate, "time", "ms", in, none, "")
	b.Var(xigate, "Xi", "dimensionless", out, none, "")
	b.Var(xigate, "V", "mV", in, none, "")
	b.Connect("membrane,V", tdpc+",V")
	b.Connect("environment,time", tdpc+",time")
	for _, c := range []string{"R", "T", "F"} {
		b.Connect("membrane,"+c, tdpc+","+c)
	}
	for _, c := range []string{"Ko", "Ki", "Nao", "Nai"} {
		b.Connect("ionic_concentrations,"+c, tdpc+","+c)
	}
	b.Connect(xgate+",X", tdpc+",X")
	b.Connect(xigate+",Xi", tdpc+",Xi")
	b.Connect(tdpc+",V", xgate+",V")
	b.Connect(tdpc+",time", xgate+",time")
	b.Connect(tdpc+",V", xigate+",V")
	b.Eq(tdpc, "g_K", mul(num(0.282), sqrt(div(ref("Ko"), num(5.4)))))
	b.Eq(tdpc, "E_K", mul(
		div(mul(ref("R"), ref("T")), ref("F")),
		ln(div(
			add(ref("Ko"), mul(ref("PR_NaK"), ref("Nao"))),
			add(ref("Ki"), mul(ref("PR_NaK"), ref("Nai"))),
		)),
	))
	b.Eq(tdpc, "i_K", mul(ref("g_K"), ref("X"), ref("Xi"), sub(ref("V"), ref("E_K"))))
	b.Eq(xgate, "alpha_X", rate(0.0005, 0.083, 50, 0.057))
	b.Eq(xgate, "beta_X", rate(0.0013, -0.06, 20, -0.04))
	b.ODE(xgate, "X", "time", gate("X", "alpha_X", "beta_X"))
	b.Eq(xigate, "Xi", div(num(1), add(num(1), exp(mul(num(0.04), add(ref("V"), num(77)))))))

	// time independent potassium current
	const tipc, k1gate = "time_independent_potassium_current", "time_independent_potassium_current_K1_gate"
	b.Var(tipc, "i_K1", "uA_per_cm2", out, none, "")
	b.Var(tipc, "g_K1", "mS_per_cm2", none, none, "")
	b.Var(tipc, "E_K1", "mV", none, out, "")
	b.Var(tipc, "K1_infinity", "dimensionless", none, in, "")
	b.Var(tipc, "V", "mV", in, out, "")
	for _, c := range []string{"R", "T", "F"} {
		b.Var(tipc, c, "", in, none, "")
	}
	b.Var(tipc, "Ko", "mM", in, none, "")
	b.Var(tipc, "Ki", "mM", in, none, "")
	b.Var(k1gate, "K1_infinity", "dimensionless", out, none, "")
	b.Var(k1gate, "alpha_K1", "per_ms", none, none, "")
	b.Var(k1gate, "beta_K1", "per_ms", none, none, "")
	b.Var(k1gate, "V", "mV", in, none, "")
	b.Var(k1gate, "E_K1", "mV", in, none, "")
	b.Connect("membrane,V", tipc+",V")
	for _, c := range []string{"R", "T", "F"} {
		b.Connect("membrane,"+c, tipc+","+c)
	}
	b.Connect("ionic_concentrations,Ko", tipc+",Ko")
	b.Connect("ionic_concentrations,Ki", tipc+",Ki")
	b.Connect(k1gate+",K1_infinity", tipc+",K1_infinity")
	b.Connect(tipc+",V", k1gate+",V")
	b.Connect(tipc+",E_K1", k1gate+",E_K1")
	b.Eq(tipc, "g_K1", mul(num(0.6047), sqrt(div(ref("Ko"), num(5.4)))))
	b.Eq(tipc, "E_K1", mul(div(mul(ref("R"), ref("T")), ref("F")), ln(div(ref("Ko"), ref("Ki")))))
	b.Eq(tipc, "i_K1", mul(ref("g_K1"), ref("K1_infinity"), sub(ref("V"), ref("E_K1"))))
	vk := sub(ref("V"), ref("E_K1"))
	b.Eq(k1gate, "alpha_K1", div(num(1.02), add(num(1), exp(mul(num(0.2385), sub(vk, num(59.215)))))))
	b.Eq(k1gate, "beta_K1", div(
		add(
			mul(num(0.49124), exp(mul(num(0.08032), add(vk, num(5.476))))),
			exp(mul(num(0.06175), sub(vk, num(594.31)))),
		),
		add(num(1), exp(mul(num(-0.5143), add(vk, num(4.753))))),
	))
	b.Eq(k1gate, "K1_infinity", div(ref("alpha_K1"), add(ref("alpha_K1"), ref("beta_K1"))))

	// background current
	const bc = "background_current"
	b.Var(bc, "i_b", "uA_per_cm2", out, none, "")
	b.Var(bc, "g_b", "mS_per_cm2", none, none, "", 0.03921)
	b.Var(bc, "E_b", "mV", none, none, "", -59.87)
	b.Var(bc, "V", "mV", in, none, "")
	b.Connect("membrane,V", bc+",V")
	b.Eq(bc, "i_b", mul(ref("g_b"), sub(ref("V"), ref("E_b"))))

	// intracellular calcium
	const icc = "intracellular_calcium_concentration"
	b.Var(icc, "Cai", "mM", out, none, "", 0.0002)
	b.Var(icc, "i_si", "uA_per_cm2", in, none, "")
	b.Var(icc, "time", "ms", in, none, "")
	b.Connect("slow_inward_current,i_si", icc+",i_si")
	b.Connect("environment,time", icc+",time")
	b.Connect(icc+",Cai", "slow_inward_current,Cai")
	b.ODE(icc, "Cai", "time", add(
		mul(num(-1e-4), ref("i_si")),
		mul(num(0.07), sub(num(1e-4), ref("Cai"))),
	))
	b.Tag(icc, "Cai", "cytosolic_calcium_concentration")

	// membrane currents
	b.Connect("fast_sodium_current,i_Na", "membrane,i_Na")
	b.Connect("slow_inward_current,i_si", "membrane,i_si")
	b.Connect(tdpc+",i_K", "membrane,i_K")
	b.Connect(tipc+",i_K1", "membrane,i_K1")
	b.Connect(bc+",i_b", "membrane,i_b")

	return b.Build()
}
