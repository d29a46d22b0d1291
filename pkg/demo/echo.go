package demo

import (
	"fmt"

	"mipsim/pkg/peripherals"
)

// Echo returns an assembly program that copies every key typed on kb onto
// the display grid, wrapping at the end of the grid. Enter moves to the
// next row.
func Echo(kb *peripherals.Keyboard, d *peripherals.Display) string {
	return fmt.Sprintf(`.main echo
echo:
    li $s1, %d          ; keyboard
    li $s2, %d          ; display
    li $s3, 0           ; cursor
    li $s4, %d          ; cells
    li $s5, %d          ; cols
    li $t9, 1
poll:
    sw $t9, %d($s1)     ; request a key
    lw $t0, %d($s1)
    blt $t0, $zero, poll
    li $t1, '\n'
    beq $t0, $t1, newline
    add $t2, $s2, $s3
    sw $t0, 0($t2)
    addi $s3, $s3, 1
    j wrap
newline:
    div $t2, $s3, $s5
    addi $t2, $t2, 1
    mul $s3, $t2, $s5
wrap:
    blt $s3, $s4, show
    li $s3, 0
show:
    add $t2, $s2, $s4
    sw $t9, 0($t2)      ; refresh
    j poll
`,
		kb.Base(), d.Base(), d.Cols()*d.Rows(), d.Cols(),
		peripherals.KeyboardFlag, peripherals.KeyboardValue,
	)
}
