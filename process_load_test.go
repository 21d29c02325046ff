package tramite

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const vacationXML = `<process>
  <info>
    <public>true</public>
    <author>hr-team</author>
    <date>2024-03-01</date>
    <name>Vacation request</name>
    <description>Request days off</description>
  </info>
  <action id="fill" name="Fill the form">
    <auth-filter backend="static">
      <param name="users">alice,bob</param>
    </auth-filter>
    <form ref="vacation">
      <input name="days" type="int" required="true" label="Days"/>
      <input name="reason" type="text"/>
    </form>
  </action>
  <conditional id="needs-approval">
    <condition>vacation.days > '5'</condition>
    <validation id="approve" name="Approve">
      <auth-filter backend="static">
        <param name="users">boss</param>
      </auth-filter>
      <dep>vacation.days</dep>
      <form ref="approval">
        <input name="decision" type="select">
          <option value="yes" label="Approve"/>
          <option value="no" label="Reject"/>
        </input>
      </form>
    </validation>
  </conditional>
  <exit id="end"/>
</process>`

func TestParseProcess(t *testing.T) {
	def, err := ParseProcess(strings.NewReader(vacationXML), "vacation.2024-03-01.xml")
	require.NoError(t, err)

	require.Equal(t, "vacation", def.Name)
	require.Equal(t, "2024-03-01", def.Version)
	require.Equal(t, "vacation.2024-03-01", def.FullName())
	require.True(t, def.Public)
	require.Equal(t, "hr-team", def.Author)
	require.Equal(t, "2024-03-01", def.Date)
	require.Equal(t, "Vacation request", def.Title)
	require.Equal(t, "Request days off", def.Description)

	// The conditional's branch is flattened into the node sequence.
	require.Len(t, def.Nodes, 4)
	require.Equal(t, "fill", def.Nodes[0].ID)
	require.Equal(t, NodeAction, def.Nodes[0].Type)
	require.Equal(t, "needs-approval", def.Nodes[1].ID)
	require.Equal(t, NodeConditional, def.Nodes[1].Type)
	require.Equal(t, "approve", def.Nodes[2].ID)
	require.Equal(t, NodeValidation, def.Nodes[2].Type)
	require.Equal(t, "end", def.Nodes[3].ID)
	require.Equal(t, NodeExit, def.Nodes[3].Type)

	cond := def.Nodes[1]
	require.Equal(t, `vacation.days > '5'`, cond.Condition)
	require.Equal(t, 1, cond.Span)

	fill := def.Nodes[0]
	require.NotNil(t, fill.Filter)
	require.Equal(t, "static", fill.Filter.Backend)
	require.Len(t, fill.Filter.Params, 1)
	require.Equal(t, "users", fill.Filter.Params[0].Name)
	require.Equal(t, "alice,bob", fill.Filter.Params[0].Value)
	require.Len(t, fill.Forms, 1)
	require.Equal(t, "vacation", fill.Forms[0].Ref)
	require.Len(t, fill.Forms[0].Inputs, 2)
	require.Equal(t, "days", fill.Forms[0].Inputs[0].Name)
	require.True(t, fill.Forms[0].Inputs[0].Required)
	require.Equal(t, "text", fill.Forms[0].Inputs[1].Type)

	approve := def.Nodes[2]
	require.Equal(t, []string{"vacation.days"}, approve.Dependencies)
	require.True(t, approve.DependsOn("vacation", "days"))
	require.False(t, approve.DependsOn("vacation", "reason"))
	require.Len(t, approve.Forms[0].Inputs[0].Options, 2)
	require.Equal(t, "yes", approve.Forms[0].Inputs[0].Options[0].Value)
}

func TestParseNestedConditionalSpan(t *testing.T) {
	src := `<process>
  <info><author>a</author><date>d</date><name>n</name></info>
  <action id="one">
    <form ref="f"><input name="x"/></form>
  </action>
  <conditional id="outer">
    <condition>f.x == 'yes'</condition>
    <action id="two"><form ref="g"><input name="y"/></form></action>
    <conditional id="inner">
      <condition>g.y == 'yes'</condition>
      <action id="three"><form ref="h"><input name="z"/></form></action>
    </conditional>
  </conditional>
  <exit id="end"/>
</process>`
	def, err := ParseProcess(strings.NewReader(src), "nested.1.xml")
	require.NoError(t, err)

	ids := make([]string, 0, len(def.Nodes))
	for _, n := range def.Nodes {
		ids = append(ids, n.ID)
	}
	require.Equal(t, []string{"one", "outer", "two", "inner", "three", "end"}, ids)
	require.Equal(t, 3, def.Node("outer").Span)
	require.Equal(t, 1, def.Node("inner").Span)
}

func TestParseProcessMalformed(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			"no info block",
			`<process><action id="a"><form ref="f"><input name="x"/></form></action></process>`,
		},
		{
			"info missing author",
			`<process><info><date>d</date><name>n</name></info>
			 <action id="a"><form ref="f"><input name="x"/></form></action></process>`,
		},
		{
			"unknown node element",
			`<process><info><author>a</author><date>d</date><name>n</name></info>
			 <widget id="w"/></process>`,
		},
		{
			"first node not actionable",
			`<process><info><author>a</author><date>d</date><name>n</name></info>
			 <exit id="end"/></process>`,
		},
		{
			"node without id",
			`<process><info><author>a</author><date>d</date><name>n</name></info>
			 <action><form ref="f"><input name="x"/></form></action></process>`,
		},
		{
			"conditional without condition",
			`<process><info><author>a</author><date>d</date><name>n</name></info>
			 <action id="a"><form ref="f"><input name="x"/></form></action>
			 <conditional id="c"><action id="b"/></conditional></process>`,
		},
		{
			"form without ref",
			`<process><info><author>a</author><date>d</date><name>n</name></info>
			 <action id="a"><form><input name="x"/></form></action></process>`,
		},
		{
			"input without name",
			`<process><info><author>a</author><date>d</date><name>n</name></info>
			 <action id="a"><form ref="f"><input/></form></action></process>`,
		},
		{
			"auth-filter without backend",
			`<process><info><author>a</author><date>d</date><name>n</name></info>
			 <action id="a"><auth-filter/><form ref="f"><input name="x"/></form></action></process>`,
		},
		{
			"wrong root element",
			`<workflow><info><author>a</author><date>d</date><name>n</name></info></workflow>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProcess(strings.NewReader(tt.src), "bad.1.xml")
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformedProcess), "got %v", err)
		})
	}
}

func TestLoadProcessVersionResolution(t *testing.T) {
	dir := t.TempDir()
	minimal := func(author string) string {
		return `<process>
  <info><author>` + author + `</author><date>d</date><name>n</name></info>
  <action id="a"><form ref="f"><input name="x"/></form></action>
</process>`
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vac.2023-01-01.xml"), []byte(minimal("old")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vac.2024-06-01.xml"), []byte(minimal("new")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vacation.2020-01-01.xml"), []byte(minimal("other")), 0o644))

	// A bare name picks the lexicographically last version.
	def, err := LoadProcess(dir, "vac")
	require.NoError(t, err)
	require.Equal(t, "new", def.Author)
	require.Equal(t, "2024-06-01", def.Version)

	// An exact filename passes through.
	def, err = LoadProcess(dir, "vac.2023-01-01.xml")
	require.NoError(t, err)
	require.Equal(t, "old", def.Author)

	// "vac" must not match "vacation.*".
	def, err = LoadProcess(dir, "vacation")
	require.NoError(t, err)
	require.Equal(t, "other", def.Author)

	_, err = LoadProcess(dir, "missing")
	require.ErrorIs(t, err, ErrProcessNotFound)
	_, err = LoadProcess(dir, "missing.1.xml")
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestParseMultiplicity(t *testing.T) {
	tests := []struct {
		in       string
		min, max int
		fails    bool
	}{
		{"", 1, 1, false},
		{"3", 3, 3, false},
		{"1,5", 1, 5, false},
		{" 2 , 4 ", 2, 4, false},
		{"many", 0, 0, true},
		{"1,x", 0, 0, true},
	}
	for _, tt := range tests {
		min, max, err := parseMultiplicity(tt.in)
		if tt.fails {
			require.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		require.Equal(t, tt.min, min, "input %q", tt.in)
		require.Equal(t, tt.max, max, "input %q", tt.in)
	}
}
