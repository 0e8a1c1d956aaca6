// Command validate checks roster JSON files before they are loaded with
// --roster or imported with "migrate". It checks:
//   - JSON structure and required fields
//   - Unique user and student ids and known roles
//   - Every student is linked to an existing guardian
//   - Coverage: every bus a student rides has at least one operator
//
// Files are taken from the arguments, or from ./rosters when none are given.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wricardo/schoolbus-tracker/tracker/directory"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

// validateRoster loads and validates a single roster file.
func validateRoster(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	roster, err := directory.ParseRoster(data)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid JSON: %v", err))
		return result
	}

	if len(roster.Users) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "Roster has no users")
	}

	for _, problem := range roster.Validate() {
		result.Valid = false
		result.Errors = append(result.Errors, problem.Error())
	}

	if !result.Valid {
		return result
	}

	users, err := roster.Users()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	coverage := validateCoverage(users, roster.Students)
	if !coverage.Valid {
		result.Valid = false
	}
	result.Errors = append(result.Errors, coverage.Errors...)

	if result.Valid {
		counts := map[directory.Role]int{}
		for _, u := range users {
			counts[u.Role]++
		}
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Users: %d", len(users)))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Guardians: %d", counts[directory.RoleGuardian]))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Operators: %d", counts[directory.RoleOperator]))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Administrators: %d", counts[directory.RoleAdministrator]))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Students: %d", len(roster.Students)))
	}

	return result
}

// validateCoverage ensures every bus with assigned students is driven by at
// least one operator. Guardians without students are reported but do not
// fail validation.
func validateCoverage(users map[string]directory.User, students []directory.Student) ValidationResult {
	result := ValidationResult{
		Valid:  true,
		Errors: []string{},
	}

	driven := map[int64]bool{}
	for _, u := range users {
		if u.Role == directory.RoleOperator {
			for _, bus := range u.BusIDs {
				driven[bus] = true
			}
		}
	}

	ridden := map[int64]bool{}
	for _, st := range students {
		if st.BusID != 0 {
			ridden[st.BusID] = true
		}
	}

	var uncovered []int64
	for bus := range ridden {
		if !driven[bus] {
			uncovered = append(uncovered, bus)
		}
	}
	sort.Slice(uncovered, func(i, j int) bool { return uncovered[i] < uncovered[j] })

	if len(uncovered) > 0 {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Coverage failure: %d/%d buses have no operator", len(uncovered), len(ridden)))
		for _, bus := range uncovered {
			result.Errors = append(result.Errors, fmt.Sprintf("Uncovered: bus %d", bus))
		}
	} else {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Coverage: All %d buses have an operator", len(ridden)))
	}

	var lonely []string
	for id, u := range users {
		if u.Role == directory.RoleGuardian && len(u.StudentIDs) == 0 {
			lonely = append(lonely, id)
		}
	}
	sort.Strings(lonely)
	if len(lonely) > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Guardians without students: %s", strings.Join(lonely, ", ")))
	}

	return result
}

// rosterFiles returns the files named in args, expanding directories to the
// *.json files they contain.
func rosterFiles(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{"rosters"}
	}
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.json"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}

// main validates each roster, printing a concise report and exiting with
// non-zero status if any are invalid.
func main() {
	files, err := rosterFiles(os.Args[1:])
	if err != nil {
		fmt.Printf("Error finding roster files: %v\n", err)
		os.Exit(1)
	}

	allValid := true
	for _, file := range files {
		result := validateRoster(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Println("  ❌ " + err)
				}
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All rosters are valid!")
	} else {
		fmt.Println("❌ Some rosters have errors")
		os.Exit(1)
	}
}
