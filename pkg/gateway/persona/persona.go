// Package persona holds the role-specific interviewer profiles: a style
// prompt used as judgment context and the scheduled questions for each
// interview.
package persona

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRole names the generalist persona.
const DefaultRole = "Default"

// Persona is one role-specific interviewer profile.
type Persona struct {
	// Role is the target role this persona interviews for.
	Role string `yaml:"role"`

	// Style describes the interviewer's manner and focus areas. It is
	// passed to the judgment service as grading context.
	Style string `yaml:"style"`

	// Questions are the scheduled questions, asked in order. The last
	// one is flagged final on the wire.
	Questions []string `yaml:"questions"`
}

// Question returns the 1-based scheduled question n.
func (p Persona) Question(n int) (string, bool) {
	if n < 1 || n > len(p.Questions) {
		return "", false
	}
	return p.Questions[n-1], true
}

// Registry resolves target roles to personas.
type Registry struct {
	personas map[string]Persona
}

// NewRegistry returns a registry preloaded with the built-in personas.
func NewRegistry() *Registry {
	r := &Registry{personas: make(map[string]Persona, len(builtin))}
	for _, p := range builtin {
		r.personas[p.Role] = p
	}
	return r
}

// Lookup resolves a target role. Unknown roles fail; session creation
// rejects them rather than silently falling back.
func (r *Registry) Lookup(role string) (Persona, error) {
	p, ok := r.personas[strings.TrimSpace(role)]
	if !ok {
		return Persona{}, fmt.Errorf("persona: unknown role %q", role)
	}
	return p, nil
}

// Roles lists the known roles, sorted, for the roles endpoint.
func (r *Registry) Roles() []string {
	roles := make([]string, 0, len(r.personas))
	for role := range r.personas {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// LoadFile overlays personas from a YAML file onto the registry.
// File entries replace built-ins with the same role.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read persona file: %w", err)
	}

	var file struct {
		Personas []Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse persona file: %w", err)
	}

	for i, p := range file.Personas {
		if strings.TrimSpace(p.Role) == "" {
			return fmt.Errorf("persona file: entry %d has no role", i)
		}
		if len(p.Questions) == 0 {
			return fmt.Errorf("persona file: role %q has no questions", p.Role)
		}
		r.personas[p.Role] = p
	}
	return nil
}

var builtin = []Persona{
	{
		Role: "Software Engineer",
		Style: "Senior technical interviewer at a top tech company. Focus: coding fundamentals, " +
			"system design basics, problem-solving approach. Professional but friendly.",
		Questions: []string{
			"Tell me about yourself and what draws you to software engineering.",
			"Walk me through a technical project you are proud of. What was your specific contribution?",
			"Describe a hard bug or production issue you debugged. How did you approach it?",
			"How would you design a URL shortener? Talk through the data model and the main trade-offs.",
			"What questions do you have for me about the team or the role?",
		},
	},
	{
		Role: "Data Scientist",
		Style: "Senior data science interviewer. Focus: statistics, ML concepts, data analysis, " +
			"business impact. Professional and encouraging.",
		Questions: []string{
			"Tell me about your background and why you chose data science.",
			"Describe a project of yours with measurable business impact. How did you measure it?",
			"How would you design an A/B test for a checkout flow change? What could invalidate it?",
			"How do you choose between model families for a new prediction problem, and how do you evaluate the result?",
			"Tell me about a time you worked with messy or incomplete data. What did you do?",
		},
	},
	{
		Role: "Quant",
		Style: "Senior quantitative analyst at a trading firm. Focus: probability, statistics, " +
			"mental math, market intuition. Direct and professional.",
		Questions: []string{
			"Tell me about your background and your interest in quantitative finance.",
			"Two dice are rolled. Given the sum is at least nine, what is the probability both show the same number?",
			"How would you test whether a trading signal is real or noise?",
			"A position doubles in volatility overnight with no price move. What do you do and why?",
			"Estimate how many trades a mid-size US equities market maker executes per day. Walk through your reasoning.",
		},
	},
	{
		Role: "Product Manager",
		Style: "Senior PM interviewer. Focus: product sense, metrics, prioritization, stakeholder " +
			"management. Conversational but evaluative.",
		Questions: []string{
			"Tell me about your background and why product management.",
			"Pick a product you use daily. How would you improve it?",
			"Your team shipped a feature and engagement didn't move. How do you figure out what happened?",
			"You have three committed features and capacity for one. How do you decide?",
			"Tell me about a time engineering and design disagreed with your call. What did you do?",
		},
	},
	{
		Role: "Cybersecurity Analyst",
		Style: "Senior security professional. Focus: security concepts, incident response, threat " +
			"analysis. Professional and thorough.",
		Questions: []string{
			"Tell me about your background and how you got into security.",
			"What are the most common attack vectors you would expect against a mid-size SaaS company, and the first defenses you would check?",
			"You get an alert for unusual outbound traffic from a production host at 2am. Walk me through your first hour.",
			"Which security tools have you worked with hands-on, and what did each actually catch?",
			"How do you stay current with new threats and vulnerabilities?",
		},
	},
	{
		Role: DefaultRole,
		Style: "Professional interviewer conducting a general mock job interview. Mix of behavioral " +
			"and role-specific questions. Professional and encouraging.",
		Questions: []string{
			"Tell me about yourself and your background.",
			"Describe a challenge you faced at work or school and how you handled it.",
			"Tell me about a time you had to learn something quickly. How did you go about it?",
			"What accomplishment are you most proud of, and what was your role in it?",
			"Where do you want to be in five years, and how does this role fit?",
		},
	},
}
